package cmd

import (
	"fmt"
	"io"
)

const banner = `
       _           _            _
   ___| |__   __ _| |_ _ __ ___| | __ _ _   _ 
  / __| '_ \ / _` + "`" + ` | __| '__/ _ \ |/ _` + "`" + ` | | | |
 | (__| | | | (_| | |_| | |  __/ | (_| | |_| |
  \___|_| |_|\__,_|\__|_|  \___|_|\__,_|\__, |
                                        |___/ 
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  WhatsApp to Dialogflow relay - Version %s\x1b[0m\n\n", Version)
}
