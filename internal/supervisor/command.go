package supervisor

import (
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/yourusername/unreal-server-manager/internal/process"
)

const maxSearchDepth = 5

var portArgPattern = regexp.MustCompile(`(?i)-(?:Port|NetPort)=(\d+)`)

var editorNames = []string{"UnrealEditor.exe", "UnrealEditor", "UE4Editor.exe", "UE4Editor"}

// BuildCommand turns a config into a launch spec.
func BuildCommand(cfg ServerConfig) process.Spec {
	exe := cfg.Executable
	if cfg.Profile != ProfileGeneric {
		exe = ResolveExecutable(cfg.Executable)
	}

	var args []string
	if cfg.ProjectPath != "" {
		args = append(args, cfg.ProjectPath)
	}
	if cfg.Profile != ProfileGeneric {
		args = append(args, "-server", "-unattended", "-stdout", "-FullStdOutLogOutput")
		if !hasPortArg(cfg.ExtraArgs) {
			args = append(args, fmt.Sprintf("-Port=%d", cfg.Port))
		}
	}
	args = append(args, cfg.ExtraArgs...)

	return process.Spec{
		Path: exe,
		Args: args,
		Dir:  cfg.WorkingDir,
		Env:  cfg.Env,
	}
}

// ResolveExecutable accepts either a file or an engine install directory and
// returns the editor binary inside it. Unresolvable paths are returned as-is
// so launching reports them.
func ResolveExecutable(path string) string {
	if path == "" {
		return path
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return path
	}

	root, err := filepath.Abs(path)
	if err != nil {
		root = path
	}

	for _, candidate := range platformCandidates(root) {
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate
		}
	}

	found := ""
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			rel, relErr := filepath.Rel(root, p)
			if relErr == nil && rel != "." && strings.Count(rel, string(filepath.Separator)) > maxSearchDepth {
				return fs.SkipDir
			}
			return nil
		}
		for _, name := range editorNames {
			if d.Name() == name {
				found = p
				return fs.SkipAll
			}
		}
		return nil
	})
	if found != "" {
		return found
	}
	return path
}

func platformCandidates(root string) []string {
	binaries := filepath.Join(root, "Engine", "Binaries")
	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(binaries, "Win64", "UnrealEditor.exe"),
			filepath.Join(binaries, "Win64", "UE4Editor.exe"),
		}
	case "darwin":
		return []string{
			filepath.Join(binaries, "Mac", "UnrealEditor"),
			filepath.Join(binaries, "Mac", "UE4Editor"),
		}
	default:
		return []string{
			filepath.Join(binaries, "Linux", "UnrealEditor"),
			filepath.Join(binaries, "Linux", "UE4Editor"),
		}
	}
}

func hasPortArg(args []string) bool {
	for _, arg := range args {
		lower := strings.ToLower(arg)
		if strings.Contains(lower, "-port=") || strings.Contains(lower, "-netport=") {
			return true
		}
	}
	return false
}

// EffectivePort is the port the server will listen on: an explicit
// -Port=/-NetPort= argument wins over the configured port.
func EffectivePort(cfg ServerConfig) int {
	m := portArgPattern.FindStringSubmatch(strings.Join(cfg.ExtraArgs, " "))
	if m != nil {
		if port, err := strconv.Atoi(m[1]); err == nil {
			return port
		}
	}
	return cfg.Port
}

// PortInUse reports whether either the TCP or UDP port is already bound.
func PortInUse(port int) bool {
	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(port))

	busy := false
	if ln, err := net.Listen("tcp", addr); err != nil {
		busy = true
	} else {
		ln.Close()
	}
	if pc, err := net.ListenPacket("udp", addr); err != nil {
		busy = true
	} else {
		pc.Close()
	}
	return busy
}
