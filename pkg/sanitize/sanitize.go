// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sanitize implements the external-content pipeline: every
// piece of data originating outside the agent — tool
// output, webhook payloads, channel messages — passes through here
// before it can reach the model.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the outcome of inspecting a piece of external content.
type Verdict string

const (
	VerdictAllow    Verdict = "allow"
	VerdictSanitize Verdict = "sanitize"
	VerdictBlock    Verdict = "block"
)

const (
	envelopeOpen  = "[[external-content:%s]]"
	envelopeClose = "[[/external-content]]"

	// BlockedPlaceholder replaces content whose verdict is Block.
	BlockedPlaceholder = "[external content blocked by policy]"
)

var (
	// imperativeTokens catch instruction-override attempts embedded in
	// fetched content ("ignore previous instructions", "you are now...").
	imperativeTokens = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
		regexp.MustCompile(`(?i)disregard (all )?(previous|prior) instructions`),
		regexp.MustCompile(`(?i)you are now\b`),
		regexp.MustCompile(`(?i)system\s*:\s*`),
		regexp.MustCompile(`(?i)new instructions\s*:`),
	}

	// credentialLike catches API-key-shaped substrings (also scrubbed by
	// the tool middleware's secret scrubber, but the sanitizer flags them
	// for the verdict before that stage runs).
	credentialLike = regexp.MustCompile(`(?i)(api[_-]?key|secret|token|bearer)\s*[:=]\s*[A-Za-z0-9_\-\.]{12,}`)
)

// Prepared is the result of running PrepareExternalContent: the text to
// hand to the model (wrapped in opaque envelope markers when not
// blocked) plus a persisted summary carrying the verdict for audit.
type Prepared struct {
	Verdict          Verdict
	ModelInput       string
	PersistedSummary string
}

// DetectInjectionSignals scans text for marker collisions with the
// envelope tags, imperative prompt-override tokens, and credential-like
// patterns.
func DetectInjectionSignals(text string) []string {
	var signals []string
	if strings.Contains(text, envelopeClose) || strings.Contains(text, "[[external-content:") {
		signals = append(signals, "marker_collision")
	}
	for _, re := range imperativeTokens {
		if re.MatchString(text) {
			signals = append(signals, "imperative_override")
			break
		}
	}
	if credentialLike.MatchString(text) {
		signals = append(signals, "credential_like")
	}
	return signals
}

// DecideAction maps detected signals to a verdict. Marker collisions are
// always sanitizable (they can't execute anything, only confuse the
// envelope); imperative overrides combined with credential-like data are
// blocked outright; a bare imperative override is sanitized.
func DecideAction(signals []string) Verdict {
	hasImperative := contains(signals, "imperative_override")
	hasCredential := contains(signals, "credential_like")
	hasMarker := contains(signals, "marker_collision")

	switch {
	case hasImperative && hasCredential:
		return VerdictBlock
	case hasImperative || hasMarker || hasCredential:
		return VerdictSanitize
	default:
		return VerdictAllow
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// SanitizeMarkerCollision neutralizes any substring that could be
// confused with the envelope's own delimiters.
func SanitizeMarkerCollision(text string) string {
	text = strings.ReplaceAll(text, "[[/external-content]]", "[ external-content-end ]")
	text = strings.ReplaceAll(text, "[[external-content:", "[ external-content-start:")
	return text
}

// WrapExternalContent wraps payload in the opaque envelope markers, tagged
// with a sanitized version of slotKey so the model can distinguish
// sources without the tag itself becoming exploitable.
func WrapExternalContent(slotKey, payload string) string {
	tag := sanitizeTag(slotKey)
	return fmt.Sprintf(envelopeOpen, tag) + payload + envelopeClose
}

func sanitizeTag(slotKey string) string {
	var b strings.Builder
	for _, r := range slotKey {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Digest computes the replay-gating digest embedded in persisted
// summaries; BuildContext refuses to replay a value that lacks one.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HasDigest reports whether value carries the digest_sha256=<hex> token
// PrepareExternalContent stamps into persisted summaries.
func HasDigest(value string) bool {
	return strings.Contains(value, "digest_sha256=")
}

// Revocation markers are written in place of a value by a storage backend
// that cannot honor a row-level forget (the degraded forget capability
// matrix). They must never be replayed into model context regardless of
// what verdict DecideAction would otherwise assign.
const (
	softForgetMarkerFormat = "__%s_DEGRADED_SOFT_FORGET_MARKER__"
	tombstoneMarkerFormat  = "__%s_DEGRADED_TOMBSTONE_MARKER__"
)

// SoftForgetMarker returns the degraded-soft-forget revocation marker for
// the named backend (e.g. "backendcol").
func SoftForgetMarker(backend string) string {
	return fmt.Sprintf(softForgetMarkerFormat, strings.ToUpper(backend))
}

// TombstoneMarker returns the degraded-tombstone revocation marker for the
// named backend.
func TombstoneMarker(backend string) string {
	return fmt.Sprintf(tombstoneMarkerFormat, strings.ToUpper(backend))
}

// IsRevocationMarkerPayload reports whether value is (or contains) a
// degraded-forget revocation marker, regardless of which backend wrote it.
func IsRevocationMarkerPayload(value string) bool {
	return strings.Contains(value, "_DEGRADED_SOFT_FORGET_MARKER__") ||
		strings.Contains(value, "_DEGRADED_TOMBSTONE_MARKER__")
}

const (
	// ReplayOmittedPreDispatch substitutes for external content that lacks
	// a replay digest — it was never run through PrepareExternalContent,
	// so its provenance can't be trusted at replay time.
	ReplayOmittedPreDispatch = "[external payload omitted by replay-ban policy]"
	// ReplayBlockedAtReplay substitutes for external content whose current
	// verdict is Block, or that carries a degraded-forget revocation
	// marker, when encountered during context replay.
	ReplayBlockedAtReplay = "[external summary blocked by policy during context replay]"
)

// SanitizeContextReplay is the context-builder's gate for `external.`
// slot values on replay: a value without a digest_sha256 token is
// refused outright, a revocation marker is always refused, and everything
// else is re-run through the same signal detection PrepareExternalContent
// used so a slot that looked safe yesterday can't smuggle in later edits.
func SanitizeContextReplay(slotKey, value string) string {
	if IsRevocationMarkerPayload(value) {
		return ReplayBlockedAtReplay
	}
	if !HasDigest(value) {
		return ReplayOmittedPreDispatch
	}
	verdict := DecideAction(DetectInjectionSignals(value))
	switch verdict {
	case VerdictBlock:
		return ReplayBlockedAtReplay
	case VerdictSanitize:
		return WrapExternalContent(slotKey, SanitizeMarkerCollision(value))
	default:
		return WrapExternalContent(slotKey, value)
	}
}

// PrepareExternalContent is the pipeline's entry point. source identifies
// where text came from (used as the envelope tag); the caller persists
// PersistedSummary and hands ModelInput (or nothing, on Block) to context
// assembly.
func PrepareExternalContent(source, text string) Prepared {
	signals := DetectInjectionSignals(text)
	verdict := DecideAction(signals)

	var modelInput string
	switch verdict {
	case VerdictAllow:
		modelInput = WrapExternalContent(source, text)
	case VerdictSanitize:
		modelInput = WrapExternalContent(source, SanitizeMarkerCollision(text))
	case VerdictBlock:
		modelInput = BlockedPlaceholder
	}

	summary := fmt.Sprintf("source=%s action=%s digest_sha256=%s", source, verdict, Digest(text))
	return Prepared{
		Verdict:          verdict,
		ModelInput:       modelInput,
		PersistedSummary: summary,
	}
}
