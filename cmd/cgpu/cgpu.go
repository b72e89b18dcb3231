package main

import (
	"CranePowerCtl/internal/cgpu"
)

func main() {
	cgpu.ParseCmdArgs()
}
