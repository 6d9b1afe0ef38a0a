// Command shmcache-inspect is a diagnostic CLI for poking at a live shmcache
// share file: one-shot get/set/del/stat/iter/checksum subcommands, or an
// interactive REPL when invoked with no subcommand. Out of the core library's scope
// (spec.md §1, "command-line plumbing, option parsing" is an explicit
// Non-goal) but a standard embedder-facing convenience every teacher repo in
// the pack ships (arena-cache-inspect, phash's own test tooling). Option
// parsing here uses the standard flag package, not a third-party flag
// library, precisely because the Non-goal draws the line at the core, not at
// this tool — see DESIGN.md.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/peterh/liner"
	"gopkg.in/yaml.v3"

	"github.com/shmcache/shmcache"
)

func main() {
	share := flag.String("share", "/tmp/sharefile", "path to the share file")
	numPages := flag.Uint("num-pages", 89, "page count (must match the attached geometry)")
	pageSize := flag.Uint("page-size", 64<<10, "page size in bytes (must match the attached geometry)")
	startSlots := flag.Uint("start-slots", 89, "initial slot directory size (must match the attached geometry)")
	format := flag.String("format", "yaml", "output format for stat/iter: yaml or text")
	flag.Parse()

	c, err := shmcache.New(shmcache.Options{
		SharePath:  *share,
		NumPages:   uint32(*numPages),
		PageSize:   uint32(*pageSize),
		StartSlots: uint32(*startSlots),
		RawValues:  true,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "shmcache-inspect:", err)
		os.Exit(1)
	}
	defer c.Close()

	args := flag.Args()
	if len(args) > 0 {
		if err := runOnce(c, *format, args); err != nil {
			fmt.Fprintln(os.Stderr, "shmcache-inspect:", err)
			os.Exit(1)
		}
		return
	}
	repl(c, *format)
}

func runOnce(c *shmcache.Cache, format string, args []string) error {
	switch args[0] {
	case "get":
		return cmdGet(c, args[1:])
	case "set":
		return cmdSet(c, args[1:])
	case "del":
		return cmdDel(c, args[1:])
	case "stat":
		return cmdStat(c, format)
	case "iter":
		return cmdIter(c, format)
	case "checksum":
		return cmdChecksum(c, args[1:])
	default:
		return fmt.Errorf("unknown command %q (want get, set, del, stat, iter, checksum)", args[0])
	}
}

// cmdChecksum prints an xxhash of a stored value, so an operator comparing
// two attached processes' views of a key can diff a short checksum instead
// of pasting raw bytes into a terminal. This never touches the wire-format
// hash in hash.go, which must stay the rotate-and-add algorithm the page
// layout depends on.
func cmdChecksum(c *shmcache.Cache, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: checksum <key>")
	}
	v, found, err := c.Get([]byte(args[0]))
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("(miss)")
		return nil
	}
	fmt.Printf("%016x\n", xxhash.Sum64(v))
	return nil
}

func cmdGet(c *shmcache.Cache, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <key>")
	}
	v, found, err := c.Get([]byte(args[0]))
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("(miss)")
		return nil
	}
	fmt.Printf("%s\n", v)
	return nil
}

func cmdSet(c *shmcache.Cache, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: set <key> <value>")
	}
	stored, err := c.Set([]byte(args[0]), []byte(args[1]))
	if err != nil {
		return err
	}
	fmt.Println("stored:", stored)
	return nil
}

func cmdDel(c *shmcache.Cache, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: del <key>")
	}
	deleted, err := c.Remove([]byte(args[0]))
	if err != nil {
		return err
	}
	fmt.Println("deleted:", deleted)
	return nil
}

func cmdStat(c *shmcache.Cache, format string) error {
	return printAs(format, c.Stats())
}

func cmdIter(c *shmcache.Cache, format string) error {
	keys, err := c.GetKeys(shmcache.KeysWithMeta)
	if err != nil {
		return err
	}
	type row struct {
		Key        string `yaml:"key"`
		ExpireTime uint32 `yaml:"expire_time"`
		Flags      uint32 `yaml:"flags"`
	}
	rows := make([]row, len(keys))
	for i, k := range keys {
		rows[i] = row{Key: string(k.Key), ExpireTime: k.ExpireTime, Flags: k.Flags}
	}
	return printAs(format, rows)
}

func printAs(format string, v any) error {
	if format == "text" {
		fmt.Printf("%+v\n", v)
		return nil
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// repl runs an interactive line-edited shell over the same six
// subcommands, so an operator can poke around a live share file without
// re-execing the binary for each call.
func repl(c *shmcache.Cache, format string) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("shmcache-inspect REPL. Commands: get set del stat iter checksum quit")
	for {
		input, err := line.Prompt("shmcache> ")
		if err != nil {
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		if fields[0] == "quit" || fields[0] == "exit" {
			return
		}
		if err := runOnce(c, format, fields); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}
