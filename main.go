// The main package for the git-clone-worker executable.
package main

import (
	"github.com/JakeFAU/git-clone-worker/cmd"
)

func main() {
	cmd.Execute()
}
