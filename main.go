// The main package for the livecrawl executable.
package main

import (
	"github.com/JakeFAU/zhihu-live-crawler/cmd"
)

func main() {
	cmd.Execute()
}
