// Package gateways provides adapter implementations for external services
// and binary formats.
package gateways

import (
	"debug/elf"
)

// architectureOf maps an ELF machine type to the archive architecture name
// used throughout the catalog. Returns "" for unsupported machines.
func architectureOf(machine elf.Machine) string {
	switch machine {
	case elf.EM_X86_64:
		return "amd64"
	case elf.EM_386:
		return "i386"
	case elf.EM_AARCH64:
		return "arm64"
	case elf.EM_ARM:
		return "armhf"
	}
	return ""
}

// defaultSearchPaths are the directories the dynamic loader consults without
// any RPATH/RUNPATH entry. A candidate installed elsewhere needs a search
// path rewrite.
var defaultSearchPaths = []string{
	"/lib",
	"/lib64",
	"/usr/lib",
	"/usr/lib64",
	"/lib/x86_64-linux-gnu",
	"/usr/lib/x86_64-linux-gnu",
	"/lib/i386-linux-gnu",
	"/usr/lib/i386-linux-gnu",
	"/lib/aarch64-linux-gnu",
	"/usr/lib/aarch64-linux-gnu",
	"/lib/arm-linux-gnueabihf",
	"/usr/lib/arm-linux-gnueabihf",
}

func onDefaultSearchPath(dir string) bool {
	for _, p := range defaultSearchPaths {
		if dir == p {
			return true
		}
	}
	return false
}
