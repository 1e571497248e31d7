package item

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/errors"
)

// Type is the kind of effect an item token grants.
type Type string

const (
	// TypeAmmo grants bullets.
	TypeAmmo Type = "ammo"
	// TypeArmour raises hit points as protection.
	TypeArmour Type = "armour"
	// TypeMedpack revives a knocked out user.
	TypeMedpack Type = "medpack"
	// TypeWeapon changes the user's shot damage and cooldown.
	TypeWeapon Type = "weapon"
)

// Token is the self-contained, signed record of a collectible effect. It is
// validated offline, no minting registry lookup is needed for verification.
type Token struct {
	// ID is the unique token id. Replay protection keys on it.
	ID uuid.UUID `json:"id"`
	// Type is the kind of effect.
	Type Type `json:"itype"`
	// Data is the type-specific payload.
	Data json.RawMessage `json:"data"`
	// CollectedOnlyOnce limits the token to a single collection.
	CollectedOnlyOnce bool `json:"collected_only_once"`
	// CollectedAsTeam applies the effect to the collector's whole team.
	CollectedAsTeam bool `json:"collected_as_team"`
	// Signature is the hex-encoded keyed hash over the token contents.
	Signature string `json:"sig"`
	// Salt is the random salt the signature was computed with.
	Salt string `json:"salt"`
}

// AmmoPayload is the payload of TypeAmmo tokens.
type AmmoPayload struct {
	// Num is the number of granted bullets.
	Num int `json:"num"`
}

// ArmourPayload is the payload of TypeArmour tokens.
type ArmourPayload struct {
	// Num is the armour level.
	Num int `json:"num"`
}

// WeaponPayload is the payload of TypeWeapon tokens.
type WeaponPayload struct {
	// Name is the display name of the weapon.
	Name string `json:"name"`
	// ShotDamage is the damage each shot deals.
	ShotDamage int `json:"shot_damage"`
	// ShotTimeout is the cooldown between shots in seconds.
	ShotTimeout float64 `json:"shot_timeout"`
}

// signaturePayload builds the canonical byte sequence the signature covers.
// The salt is included so identical tokens minted twice do not share a
// signature.
func signaturePayload(token Token) ([]byte, error) {
	compactData := &bytes.Buffer{}
	if len(token.Data) > 0 {
		err := json.Compact(compactData, token.Data)
		if err != nil {
			return nil, errors.NewValidationErrorFromErr(errors.KindMalformedToken, err,
				"compact token payload")
		}
	}
	payload := strings.Join([]string{
		token.ID.String(),
		string(token.Type),
		compactData.String(),
		strconv.FormatBool(token.CollectedOnlyOnce),
		strconv.FormatBool(token.CollectedAsTeam),
		token.Salt,
	}, "\n")
	return []byte(payload), nil
}

// sign computes the hex-encoded HMAC-SHA256 signature of the token with the
// given secret.
func sign(token Token, secret []byte) (string, error) {
	payload, err := signaturePayload(token)
	if err != nil {
		return "", errors.Wrap(err, "signature payload", nil)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// verifySignature recomputes the token signature and compares in constant
// time. A mismatch returns an ErrConflict error.
func verifySignature(token Token, secret []byte) error {
	expected, err := sign(token, secret)
	if err != nil {
		return errors.Wrap(err, "sign token", nil)
	}
	if !hmac.Equal([]byte(expected), []byte(token.Signature)) {
		return errors.NewConflictError(errors.KindItemSignatureMismatch,
			"item token signature mismatch", errors.Details{"item_id": token.ID})
	}
	return nil
}

// newSalt returns a fresh random salt for minting.
func newSalt() (string, error) {
	salt := make([]byte, 8)
	_, err := rand.Read(salt)
	if err != nil {
		return "", errors.NewInternalErrorFromErr(err, "read random salt", nil)
	}
	return hex.EncodeToString(salt), nil
}

// Encode serializes the token for embedding in QR codes and URLs.
func Encode(token Token) (string, error) {
	raw, err := json.Marshal(token)
	if err != nil {
		return "", errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindEncodeJSON,
			Err:     err,
			Message: "marshal item token",
		}
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses an encoded token. The input may be a bare encoded token or an
// arbitrary URL carrying the token in its d query parameter; the URL wrapper
// is stripped first. Undecodable input returns an ErrValidation error.
func Decode(encoded string) (Token, error) {
	encoded = stripURL(encoded)
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return Token{}, errors.NewValidationErrorFromErr(errors.KindMalformedToken, err,
			"decode item token base64")
	}
	var token Token
	err = json.Unmarshal(raw, &token)
	if err != nil {
		return Token{}, errors.NewValidationErrorFromErr(errors.KindMalformedToken, err,
			"unmarshal item token")
	}
	return token, nil
}

// stripURL extracts the token from the d query parameter if the input is a
// URL, otherwise it returns the input unchanged.
func stripURL(encoded string) string {
	if !strings.Contains(encoded, "://") && !strings.Contains(encoded, "?") {
		return encoded
	}
	parsed, err := url.Parse(encoded)
	if err != nil {
		return encoded
	}
	if d := parsed.Query().Get("d"); d != "" {
		return d
	}
	return encoded
}

// WrapURL embeds the encoded token as the d query parameter of the given base
// URL, for printing scannable codes that open a collection page.
func WrapURL(base string, encoded string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", errors.NewValidationErrorFromErr(errors.KindUnexpected, err,
			"parse base url")
	}
	query := parsed.Query()
	query.Set("d", encoded)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
