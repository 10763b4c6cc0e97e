// Package banner provides the startup banner for VigilGo.
package banner

import "fmt"

// Version is the current version of VigilGo.
const Version = "1.0.0"

const art = `
__     ___       _ _  ____
\ \   / (_) __ _(_) |/ ___| ___
 \ \ / /| |/ _` + "`" + ` | | | |  _ / _ \
  \ V / | | (_| | | | |_| | (_) |
   \_/  |_|\__, |_|_|\____|\___/
           |___/
`

// Print writes the startup banner to stdout.
func Print() {
	fmt.Print(art)
	fmt.Printf("        Cloud Resource Sentinel  v%s\n\n", Version)
}
