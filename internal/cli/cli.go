package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

var ErrNoCommand = errors.New("no command specified")

// CommandType represents the type of CLI command
type CommandType int

const (
	CommandHelp CommandType = iota
	CommandVersion
	CommandServer
	CommandPatch
	CommandRestore
	CommandHash
	CommandUpdate
)

// Command represents a parsed CLI command
type Command struct {
	Type      CommandType
	Port      int
	Path      string
	CheckOnly bool

	// Global flags, accepted before the sub-command
	DataDir string
	Debug   bool
}

// String returns a string representation of the command
func (c *Command) String() string {
	switch c.Type {
	case CommandHelp:
		return "help"
	case CommandVersion:
		return "version"
	case CommandServer:
		if c.Port != 0 {
			return fmt.Sprintf("server (port: %d)", c.Port)
		}
		return "server"
	case CommandPatch:
		if c.Path != "" {
			return fmt.Sprintf("patch (path: %s)", c.Path)
		}
		return "patch"
	case CommandRestore:
		if c.Path != "" {
			return fmt.Sprintf("restore (path: %s)", c.Path)
		}
		return "restore"
	case CommandHash:
		return "hash"
	case CommandUpdate:
		if c.CheckOnly {
			return "update (check only)"
		}
		return "update"
	default:
		return "unknown"
	}
}

// CLI represents the command-line interface
type CLI struct {
	version string
}

// NewCLI creates a new CLI instance
func NewCLI(version string) *CLI {
	return &CLI{
		version: version,
	}
}

// ParseCommand parses command-line arguments and returns a Command
func (c *CLI) ParseCommand(args []string) (*Command, error) {
	global := flag.NewFlagSet("vrcvideocacher", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	dataDir := global.String("data", "", "Data directory (default: per-user application data)")
	debug := global.Bool("debug", false, "Enable debug logging")

	// --hash, --reset and the help/version flags double as commands, so
	// they must reach the switch below instead of the global flag set.
	rest := args
	for len(rest) > 0 && isGlobalFlag(rest[0]) {
		end := 1
		if (rest[0] == "-data" || rest[0] == "--data") && len(rest) > 1 {
			end = 2
		}
		if err := global.Parse(rest[:end]); err != nil {
			return nil, err
		}
		rest = rest[end:]
	}

	if len(rest) == 0 {
		return nil, ErrNoCommand
	}

	cmd, err := c.parseSubcommand(rest)
	if err != nil {
		return nil, err
	}
	cmd.DataDir = *dataDir
	cmd.Debug = *debug
	return cmd, nil
}

func isGlobalFlag(arg string) bool {
	switch arg {
	case "-data", "--data", "-debug", "--debug":
		return true
	}
	for _, prefix := range []string{"-data=", "--data=", "-debug=", "--debug="} {
		if strings.HasPrefix(arg, prefix) {
			return true
		}
	}
	return false
}

func (c *CLI) parseSubcommand(args []string) (*Command, error) {
	switch args[0] {
	case "-h", "--help", "help":
		return &Command{Type: CommandHelp}, nil
	case "-v", "--version", "version":
		return &Command{Type: CommandVersion}, nil
	case "--hash", "hash":
		return &Command{Type: CommandHash}, nil
	case "server":
		return c.parseServerCommand(args[1:])
	case "patch":
		return c.parsePathCommand(CommandPatch, args)
	case "restore", "unpatch", "--reset":
		return c.parsePathCommand(CommandRestore, args)
	case "update":
		return c.parseUpdateCommand(args[1:])
	default:
		return nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

// parseServerCommand parses the server command. Port 0 keeps the configured port.
func (c *CLI) parseServerCommand(args []string) (*Command, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	port := fs.Int("port", 0, "Server port (overrides webServerPort)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *port < 0 || *port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", *port)
	}

	return &Command{
		Type: CommandServer,
		Port: *port,
	}, nil
}

// parsePathCommand handles patch and restore, which share the -path flag
func (c *CLI) parsePathCommand(typ CommandType, args []string) (*Command, error) {
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("path", "", "VRChat Tools directory path (auto-detect if empty)")

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	return &Command{
		Type: typ,
		Path: *path,
	}, nil
}

// parseUpdateCommand parses the update command
func (c *CLI) parseUpdateCommand(args []string) (*Command, error) {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	checkOnly := fs.Bool("check", false, "Only check for updates without installing")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return &Command{
		Type:      CommandUpdate,
		CheckOnly: *checkOnly,
	}, nil
}

// PrintHelp prints the help message
func (c *CLI) PrintHelp(w io.Writer) {
	help := `VRCVideoCacher - local video cache and resolver gateway for VRChat and Resonite

Usage:
  vrcvideocacher [global flags] [command] [flags]

Available Commands:
  server      Start the gateway, download worker and patch the game clients
  patch       Replace the game client's yt-dlp.exe with the forwarding stub
  restore     Restore the original yt-dlp.exe (aliases: unpatch, --reset)
  hash        Print the stub hash (alias: --hash)
  update      Update VRCVideoCacher to the latest release
  version     Print version information
  help        Print this help message

Global Flags:
  -data string   Data directory holding config.json and cookies
  -debug         Enable debug logging

Server Flags:
  -port int   Server port (default: webServerPort from config.json)

Patch/Restore Flags:
  -path string   VRChat Tools directory path (auto-detect if empty)

Update Flags:
  -check   Only check for updates without installing

Examples:
  vrcvideocacher server
  vrcvideocacher -debug server -port 9000
  vrcvideocacher patch -path "C:\Users\...\VRChat\Tools"
  vrcvideocacher --reset
  vrcvideocacher update -check
`
	fmt.Fprint(w, help)
}

// PrintVersion prints the version information
func (c *CLI) PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "VRCVideoCacher version %s\n", c.version)
}
