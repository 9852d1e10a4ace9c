package cmd

import (
	"fmt"
	"io"
)

const banner = `
   ____                          __  __            _   
  / ___|___  _   _ _ __ ___  ___|  \/  | __ _ _ __| |_ 
 | |   / _ \| | | | '__/ __|/ _ \ |\/| |/ _` + "`" + ` | '__| __|
 | |__| (_) | |_| | |  \__ \  __/ |  | | (_| | |  | |_ 
  \____\___/ \__,_|_|  |___/\___|_|  |_|\__,_|_|   \__|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Development API - Version %s\x1b[0m\n\n", Version)
}
