package persist

import (
	"fmt"
	"time"

	"github.com/coursemart/authclient/storage"
)

// CheckStatus is the verdict of one inspection check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Check is one line of an inspection report.
type Check struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// Report describes what a durable store holds. It never contains token or
// cookie values.
type Report struct {
	UserID        string  `json:"user_id,omitempty"`
	Email         string  `json:"email,omitempty"`
	Role          string  `json:"role,omitempty"`
	Cookies       int     `json:"cookies"`
	ExpiredCookie int     `json:"expired_cookies"`
	Valid         bool    `json:"valid"`
	Checks        []Check `json:"checks"`
}

func (r *Report) add(name string, status CheckStatus, detail string) {
	if status == CheckFail {
		r.Valid = false
	}
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Detail: detail})
}

// Inspect reads the durable store without modifying it and reports whether
// the remembered identity and cookies can be restored with key.
func Inspect(repo storage.Repository, key []byte, now time.Time) Report {
	report := Report{Valid: true}
	a := &Adapter{key: key}

	env, err := repo.Get(sessionNamespace, identityType, identityID)
	switch {
	case storage.IsNotFound(err):
		report.add("identity_record", CheckWarn, "no remembered identity")
	case err != nil:
		report.add("identity_record", CheckFail, err.Error())
	default:
		report.add("identity_sealing", sealingStatus(env, key), "scheme="+env.Scheme)
		id, err := a.read(repo)
		if err != nil {
			report.add("identity_record", CheckFail, err.Error())
		} else {
			report.UserID = id.ID
			report.Email = id.Email
			report.Role = string(id.Role)
			report.add("identity_record", CheckPass, "")
		}
	}

	ids, err := repo.List(cookieNamespace, cookieType)
	if err != nil {
		report.add("cookies", CheckFail, err.Error())
		return report
	}
	j := &CookieJar{repo: repo, key: key}
	var unreadable int
	for _, id := range ids {
		sc, err := j.load(id)
		if err != nil {
			unreadable++
			continue
		}
		if sc.Expires.After(now) {
			report.Cookies++
		} else {
			report.ExpiredCookie++
		}
	}
	switch {
	case unreadable > 0:
		report.add("cookies", CheckFail, fmt.Sprintf("%d of %d stored cookies cannot be opened", unreadable, len(ids)))
	case report.ExpiredCookie > 0:
		report.add("cookies", CheckWarn, fmt.Sprintf("%d expired cookies will be pruned on next start", report.ExpiredCookie))
	case report.Cookies == 0:
		report.add("cookies", CheckWarn, "no persistent cookies; the next start cannot refresh")
	default:
		report.add("cookies", CheckPass, fmt.Sprintf("%d live cookies", report.Cookies))
	}
	return report
}

func sealingStatus(env *storage.Envelope, key []byte) CheckStatus {
	if env.Scheme == storage.SchemeRaw && len(key) > 0 {
		return CheckWarn
	}
	return CheckPass
}
