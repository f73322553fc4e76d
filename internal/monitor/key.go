package monitor

import (
	"crypto/sha1"
	"encoding/hex"
	"log/slog"
	"path"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/wasilibs/go-re2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxKeyLength is the longest monitor key accepted by CronRadar.
const MaxKeyLength = 64

const (
	callbackKeyPrefix = "scheduled-task-"
	fallbackKeyPrefix = "task-"
)

var validKey = re2.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidKey reports whether key is a normalized, non-empty monitor key.
func ValidKey(key string) bool {
	return len(key) <= MaxKeyLength && validKey.MatchString(key)
}

// NormalizeKey lowercases s, folds accented letters to ASCII, replaces every
// run of characters outside [a-z0-9] with a single hyphen, trims hyphens and
// truncates to MaxKeyLength. The result may be empty. NormalizeKey is
// idempotent.
func NormalizeKey(s string) string {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	hyphen := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') {
			b.WriteByte(c)
			hyphen = false
			continue
		}
		if !hyphen {
			b.WriteByte('-')
			hyphen = true
		}
	}

	key := strings.Trim(b.String(), "-")
	if len(key) > MaxKeyLength {
		key = strings.TrimRight(key[:MaxKeyLength], "-")
	}
	return key
}

// CallbackKey derives a key from a callback identity. The key changes when
// the callback moves in the source, so a description is preferable.
func CallbackKey(identity string) string {
	sum := sha1.Sum([]byte(identity))
	return callbackKeyPrefix + hex.EncodeToString(sum[:])[:8]
}

func fallbackKey() string {
	return fallbackKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// KeyResolver derives monitor keys from task descriptors.
type KeyResolver struct {
	log        *slog.Logger
	entrypoint *re2.Regexp
	newKey     func() string

	mu        sync.Mutex
	fallbacks map[string]string
	warned    map[string]struct{}
}

// NewKeyResolver creates a resolver. Entrypoints are the scheduler entrypoint
// tokens that precede the logical command name in a command line (default:
// "artisan").
func NewKeyResolver(log *slog.Logger, entrypoints ...string) *KeyResolver {
	if log == nil {
		log = slog.Default()
	}
	if len(entrypoints) == 0 {
		entrypoints = []string{"artisan"}
	}
	quoted := make([]string, 0, len(entrypoints))
	for _, e := range entrypoints {
		quoted = append(quoted, re2.QuoteMeta(e))
	}
	pattern := `(?i)(?:` + strings.Join(quoted, "|") + `)['"]?\s+['"]?([A-Za-z0-9:_-]+)`

	return &KeyResolver{
		log:        log.With("component", "key_resolver"),
		entrypoint: re2.MustCompile(pattern),
		newKey:     fallbackKey,
		fallbacks:  make(map[string]string),
		warned:     make(map[string]struct{}),
	}
}

// Resolve returns the monitor key for d. The first usable source wins:
// override, command line, description, callback identity, generated key.
// Resolve never fails and returns the same key for the same task ID during
// the life of the resolver.
func (r *KeyResolver) Resolve(d TaskDescriptor, override string) (key string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("key resolution panicked, using generated key", "task", d.ID, "panic", rec)
			key = r.generated(d.ID)
		}
	}()

	if k := NormalizeKey(override); k != "" {
		return k
	}
	if d.CommandLine != "" {
		if k := NormalizeKey(r.ExtractCommand(d.CommandLine)); k != "" {
			return k
		}
	}
	if k := NormalizeKey(d.Description); k != "" {
		return k
	}
	if d.CallbackIdentity != "" {
		r.warnOnce(d)
		return CallbackKey(d.CallbackIdentity)
	}
	return r.generated(d.ID)
}

// ExtractCommand returns the logical command name of a command line with
// namespace separators turned into hyphens:
//
//	'/usr/bin/php' 'artisan' reports:generate --weekly  ->  reports-generate
//	queue:work --stop-when-empty                        ->  queue-work
//	/usr/local/bin/backup.sh --full                     ->  backup.sh
//
// Without an entrypoint only the first field is used, so arguments never
// become part of the key (a basename of the whole line would give
// "backup.sh --full").
func (r *KeyResolver) ExtractCommand(commandLine string) string {
	var token string
	if m := r.entrypoint.FindStringSubmatch(commandLine); len(m) == 2 {
		token = m[1]
	} else {
		fields := strings.Fields(commandLine)
		if len(fields) == 0 {
			return ""
		}
		first := strings.Trim(fields[0], `'"`)
		if strings.ContainsAny(first, `/\`) {
			token = path.Base(strings.ReplaceAll(first, `\`, "/"))
		} else {
			token = leadingCommandToken(first)
		}
	}
	return strings.ReplaceAll(token, ":", "-")
}

func leadingCommandToken(s string) string {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') || c == ':' || c == '_' || c == '-') {
			if i == 0 {
				return s
			}
			return s[:i]
		}
	}
	return s
}

func (r *KeyResolver) warnOnce(d TaskDescriptor) {
	id := d.ID + "|" + d.CallbackIdentity
	r.mu.Lock()
	_, seen := r.warned[id]
	r.warned[id] = struct{}{}
	r.mu.Unlock()
	if !seen {
		r.log.Warn("callback task without description, key depends on its source location; add a description to keep it stable",
			"task", d.ID, "callback", d.CallbackIdentity)
	}
}

func (r *KeyResolver) generated(taskID string) string {
	if taskID == "" {
		return r.newKey()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.fallbacks[taskID]; ok {
		return k
	}
	k := r.newKey()
	r.fallbacks[taskID] = k
	return k
}
