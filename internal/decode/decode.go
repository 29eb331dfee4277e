// Package decode turns raw generative-model output into a usable
// question/answer pair. Model output is untrusted: it is routinely wrapped in
// markdown fences, truncated mid-object, or carries invalid escape sequences,
// so decoding proceeds through progressively weaker structural guarantees and
// ends in a deterministic fallback. Decode never fails and never returns
// empty fields.
package decode

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// QA is a decoded question/answer pair. After Decode both fields are
// non-empty.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Fallback pair used when the seed itself is already a question.
const (
	genericQuestion = "What was the main topic of the explanation?"
	genericAnswer   = "the topic you asked about"
)

var (
	questionPattern = regexp.MustCompile(`"question"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	answerPattern   = regexp.MustCompile(`"answer"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// Decode extracts a QA pair from raw model output, with seed (the original
// user input) driving the fallback. Stages:
//  1. Strip fences, locate the first balanced object.
//  2. Strict JSON parse of the object.
//  3. On parse failure: repair invalid escape sequences, parse again.
//  4. On repair failure or no object: recover the fields individually by
//     pattern, tolerating a malformed surrounding object.
//  5. If the question is still empty: synthesize one from the seed.
func Decode(raw, seed string) QA {
	stripped := StripFences(raw)

	var qa QA
	if obj, ok := ExtractObject(stripped); ok {
		var err error
		if qa, err = parseStrict(obj); err != nil {
			slog.Debug("decode: strict parse failed, repairing escapes", "error", err)
			qa, err = parseStrict(repairEscapes(obj))
		}
		if err != nil {
			slog.Debug("decode: repaired parse failed, recovering fields", "error", err)
			qa = recoverFields(stripped)
		}
	} else {
		slog.Debug("decode: no balanced object in model output")
		qa = recoverFields(stripped)
	}

	return applyFallback(qa, seed)
}

// parseStrict unmarshals a candidate object into a QA pair. Missing fields
// come back as empty strings; both fields are trimmed.
func parseStrict(obj string) (QA, error) {
	var qa QA
	if err := json.Unmarshal([]byte(obj), &qa); err != nil {
		return QA{}, err
	}
	qa.Question = strings.TrimSpace(qa.Question)
	qa.Answer = strings.TrimSpace(qa.Answer)
	return qa, nil
}

// repairEscapes escapes every backslash that does not begin a recognized
// JSON escape sequence, so a value like "C:\Temp" survives a re-parse.
func repairEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) && strings.IndexByte(`"\/bfnrtu`, s[i+1]) >= 0 {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteString(`\\`)
	}
	return b.String()
}

// recoverFields pulls the question and answer values out of text by pattern,
// independent of whether the surrounding object parses at all.
func recoverFields(s string) QA {
	return QA{
		Question: recoverField(questionPattern, s),
		Answer:   recoverField(answerPattern, s),
	}
}

func recoverField(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(unescape(m[1]))
}

// unescape decodes standard JSON escape sequences in a recovered value.
// Unrecognized escapes are kept literally rather than dropped.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch n := s[i]; n {
		case '"', '\\', '/':
			b.WriteByte(n)
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'u':
			if i+4 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+5], 16, 32); err == nil {
					b.WriteRune(rune(v))
					i += 4
					continue
				}
			}
			b.WriteString(`\u`)
		default:
			b.WriteByte('\\')
			b.WriteByte(n)
		}
	}
	return b.String()
}

// applyFallback enforces the non-empty post-condition. A seed that is itself
// a question gets the fixed generic follow-up; otherwise the question is
// synthesized around the seed and the seed doubles as the answer.
func applyFallback(qa QA, seed string) QA {
	seed = strings.TrimSpace(seed)
	if qa.Question == "" {
		if strings.Contains(seed, "?") {
			return QA{Question: genericQuestion, Answer: genericAnswer}
		}
		if seed == "" {
			seed = "this topic"
		}
		return QA{
			Question: fmt.Sprintf("What is one key fact about %s?", seed),
			Answer:   seed,
		}
	}
	if qa.Answer == "" {
		if seed == "" {
			qa.Answer = genericAnswer
		} else {
			qa.Answer = seed
		}
	}
	return qa
}
