package parser

import (
	"strings"

	"github.com/potwatch/potwatch/internal/model"
)

// executableExtensions lists filename suffixes treated as executable payloads.
var executableExtensions = []string{".sh", ".bin", ".elf", ".exe"}

// EnhancedAnalyzer extends the base analyzer with heuristic flags on file
// transfers: executable-by-extension and a placeholder malware check on the
// hash prefix.
//
// TODO(shasum): replace the hash-prefix placeholder with a real lookup
// against a malware hash database once one is wired in.
type EnhancedAnalyzer struct {
	*Analyzer
}

// NewEnhancedAnalyzer creates an analyzer with file heuristics enabled.
func NewEnhancedAnalyzer() *EnhancedAnalyzer {
	return &EnhancedAnalyzer{Analyzer: NewAnalyzer()}
}

// Parse behaves like Analyzer.Parse and additionally tags any extracted file
// descriptor with the executable and malware heuristics.
func (a *EnhancedAnalyzer) Parse(line string) (*model.LogEntry, error) {
	entry, err := a.Analyzer.Parse(line)
	if err != nil {
		return nil, err
	}
	if entry.File != nil {
		entry.File.Executable = isExecutableFilename(entry.File.Filename)
		entry.File.Malware = isSuspiciousHash(entry.File.Shasum)
	}
	return entry, nil
}

func isExecutableFilename(name string) bool {
	for _, ext := range executableExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// isSuspiciousHash is a stand-in for a malware hash database lookup.
func isSuspiciousHash(shasum string) bool {
	return strings.HasPrefix(shasum, "e") || strings.HasPrefix(shasum, "a")
}
