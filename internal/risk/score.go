// Package risk scores reconstructed sessions for malicious intent. Scoring
// is additive and deterministic over the session's current state, saturating
// at 100.
package risk

import (
	"regexp"
	"strings"

	"github.com/potwatch/potwatch/internal/intel"
	"github.com/potwatch/potwatch/internal/model"
)

// MaxScore is the ceiling every score saturates at.
const MaxScore = 100

// MaliciousThreshold is the score at or above which a session is flagged
// malicious.
const MaliciousThreshold = 50

// commandPatterns match command lines typical of reverse shells, droppers,
// and flood tooling.
var commandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`wget\s+.+\s+\|\s*sh`),
	regexp.MustCompile(`curl\s+.+\s+\|\s*sh`),
	regexp.MustCompile(`/dev/tcp/\d+\.\d+\.\d+\.\d+/\d+`),
	regexp.MustCompile(`python\s+-c\s+'(.*socket|.*connect)'`),
	regexp.MustCompile(`nc\s+(-e|-c)\s+`),
	regexp.MustCompile(`busybox\s+tftp`),
	regexp.MustCompile(`chmod\s+[+]x`),
	regexp.MustCompile(`dd\s+bs=\d+\s+count=\d+\s+if=/dev/zero`),
	regexp.MustCompile(`ping\s+(-f|-t|-s\s+\d{4,})`),
}

// intelLabels that add extra weight on top of the feed score.
var hostileIntelLabels = map[string]struct{}{
	"malware": {},
	"c2":      {},
	"botnet":  {},
}

// Scorer computes session risk scores. A nil intel provider disables the
// threat-intelligence contribution; everything else is pure over the session.
type Scorer struct {
	intel *intel.Provider
}

// NewScorer creates a scorer. provider may be nil.
func NewScorer(provider *intel.Provider) *Scorer {
	return &Scorer{intel: provider}
}

// IsCommandMalicious reports whether a command line matches any of the known
// malicious patterns.
func IsCommandMalicious(cmd string) bool {
	for _, re := range commandPatterns {
		if re.MatchString(cmd) {
			return true
		}
	}
	return false
}

// Score computes the 0..100 risk score for a session from its full current
// state. Factors are additive; a single command can trigger several of the
// per-command factors.
func (s *Scorer) Score(session *model.Session) int {
	score := 0

	if session.User != nil && session.User.LoginSuccess {
		score += 10
	}

	if s.intel != nil {
		if entry, ok := s.intel.Lookup(session.SrcIP); ok {
			score += entry.Score / 5
			for _, label := range entry.Labels {
				if _, hostile := hostileIntelLabels[label]; hostile {
					score += 10
					break
				}
			}
		}
	}

	if len(session.Commands) > 0 {
		score += 5
		if len(session.Commands) > 20 {
			score += 10
		} else if len(session.Commands) > 10 {
			score += 5
		}

		for _, cmd := range session.Commands {
			lower := strings.ToLower(cmd.Command)

			if IsCommandMalicious(cmd.Command) {
				score += 20
			}
			if strings.Contains(lower, "wget") || strings.Contains(lower, "curl") || strings.Contains(lower, "tftp") {
				score += 10
			}
			if strings.Contains(lower, "/tmp") || strings.Contains(lower, "/var/tmp") || strings.Contains(lower, "/dev/shm") {
				score += 5
			}
			if strings.Contains(lower, "chmod") && (strings.Contains(lower, "+x") || strings.Contains(lower, "777")) {
				score += 15
			}
			if strings.Contains(lower, "busybox") || strings.Contains(lower, "xmrig") ||
				strings.Contains(lower, "mirai") || strings.Contains(lower, "ddos") {
				score += 25
			}
			if (strings.Contains(lower, "bash") && strings.Contains(lower, "dev/tcp")) ||
				(strings.Contains(lower, "nc") && strings.Contains(lower, "-e")) {
				score += 30
			}
		}
	}

	if len(session.Files) > 0 {
		score += 10
		for _, file := range session.Files {
			if file.Executable {
				score += 10
			}
			if file.Malware {
				score += 30
			}
		}
	}

	if score > MaxScore {
		score = MaxScore
	}
	return score
}

// MalwareFamily labels a session with a known malware family when its
// command history matches the family's signature combination. Returns the
// empty string when nothing matches.
func (s *Scorer) MalwareFamily(session *model.Session) string {
	parts := make([]string, 0, len(session.Commands))
	for _, cmd := range session.Commands {
		parts = append(parts, cmd.Command)
	}
	joined := strings.Join(parts, "; ")

	if strings.Contains(joined, "busybox") && strings.Contains(joined, "wget") && strings.Contains(joined, "chmod +x") {
		return "Mirai-like"
	}
	if strings.Contains(joined, "xmrig") || strings.Contains(joined, "monero") || strings.Contains(joined, "cryptonight") {
		return "Crypto Miner"
	}
	if strings.Contains(joined, "/dev/tcp") && strings.Contains(joined, "sh -i") {
		return "Reverse Shell"
	}
	return ""
}
