// Package pace establishes a secure messaging session with an eID card using
// PACE generic mapping (id-PACE-ECDH-GM-AES-CBC-CMAC-256) keyed by the card
// access number.
package pace

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/andrei-cloud/go_eid/pkg/cryptoutils"
	"github.com/andrei-cloud/go_eid/pkg/ecc"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/sm"
	"github.com/andrei-cloud/go_eid/pkg/tlv"
	"github.com/rs/zerolog"
)

// ProtocolOID is 0.4.0.127.0.7.2.2.4.2.4, id-PACE-ECDH-GM-AES-CBC-CMAC-256.
var ProtocolOID = []byte{0x04, 0x00, 0x7F, 0x00, 0x07, 0x02, 0x02, 0x04, 0x02, 0x04}

// PasswordCAN is the PACE password reference for the card access number.
const PasswordCAN byte = 0x02

// EFCardAccess is the short file identifier path of EF.CardAccess.
var EFCardAccess = []byte{0x01, 0x1C}

// Dynamic authentication data tags.
const (
	TagDynamicAuthData   uint32 = 0x7C
	TagEncryptedNonce    uint32 = 0x80
	TagMappingTerminal   uint32 = 0x81
	TagMappingCard       uint32 = 0x82
	TagEphemeralTerminal uint32 = 0x83
	TagEphemeralCard     uint32 = 0x84
	TagTokenTerminal     uint32 = 0x85
	TagTokenCard         uint32 = 0x86
)

// MSE:Set AT and authentication token tags.
const (
	TagCryptoMechanism uint32 = 0x80
	TagPasswordRef     uint32 = 0x83
	TagDomainParams    uint32 = 0x84
	TagPublicKey       uint32 = 0x7F49
	TagOID             uint32 = 0x06
	TagECPoint         uint32 = 0x86

	TokenLength = 8
)

// Params is the PACE configuration advertised in EF.CardAccess.
type Params struct {
	OID     []byte
	ParamID byte
}

// ParseCardAccess finds the first PACEInfo entry with a supported protocol
// and domain parameter id.
func ParseCardAccess(b []byte) (Params, error) {
	outer, err := tlv.DecodeAll(b)
	if len(outer) == 0 && err != nil {
		return Params{}, fmt.Errorf("%w: EF.CardAccess: %w", errorcodes.ErrAuthentication, err)
	}
	for _, set := range outer {
		infos, _ := set.Children()
		for _, info := range infos {
			fields, err := info.Children()
			if err != nil || len(fields) != 3 {
				continue
			}
			if fields[0].Tag != TagOID || !bytes.Equal(fields[0].Value, ProtocolOID) {
				continue
			}
			if len(fields[2].Value) == 0 {
				continue
			}
			id := fields[2].Value[0]
			if _, err := ecc.ByParamID(id); err != nil {
				continue
			}

			return Params{OID: append([]byte(nil), ProtocolOID...), ParamID: id}, nil
		}
	}

	return Params{}, fmt.Errorf("%w: no supported PACE info in EF.CardAccess", errorcodes.ErrAuthentication)
}

// ReadCardAccess selects and reads EF.CardAccess.
func ReadCardAccess(ctx context.Context, t iso7816.Transceiver) (Params, error) {
	if _, err := iso7816.Send(ctx, t, iso7816.Command{
		Ins:  iso7816.InsSelect,
		P1:   0x02,
		P2:   0x0C,
		Data: EFCardAccess,
	}); err != nil {
		return Params{}, fmt.Errorf("select EF.CardAccess: %w", err)
	}
	data, err := iso7816.Send(ctx, t, iso7816.Command{
		Ins: iso7816.InsReadBinary,
		Ne:  iso7816.MaxShortNe,
	})
	if err != nil {
		return Params{}, fmt.Errorf("read EF.CardAccess: %w", err)
	}

	return ParseCardAccess(data)
}

// Establish runs the PACE handshake over t and returns the session keys.
// A card reporting 0x6300 yields an error matching both ErrWrongCAN and
// ErrAuthentication.
func Establish(ctx context.Context, t iso7816.Transceiver, can string) (sm.SessionKeys, error) {
	return establish(ctx, t, can, rand.Reader)
}

func establish(ctx context.Context, t iso7816.Transceiver, can string, rnd io.Reader) (sm.SessionKeys, error) {
	logger := zerolog.Ctx(ctx)

	params, err := ReadCardAccess(ctx, t)
	if err != nil {
		return sm.SessionKeys{}, err
	}
	domain, err := ecc.ByParamID(params.ParamID)
	if err != nil {
		return sm.SessionKeys{}, err
	}
	logger.Debug().
		Str("event", "pace_params").
		Uint8("param_id", params.ParamID).
		Msg("card access parsed")

	if err := setAuthenticationTemplate(ctx, t, params); err != nil {
		return sm.SessionKeys{}, err
	}

	// Step 1: encrypted nonce.
	encNonce, err := generalAuthenticate(ctx, t, nil, TagEncryptedNonce)
	if err != nil {
		return sm.SessionKeys{}, err
	}
	nonce, err := DecryptNonce(can, encNonce)
	if err != nil {
		return sm.SessionKeys{}, err
	}
	defer cryptoutils.Wipe(nonce)
	logger.Debug().Str("event", "pace_step").Str("step", "nonce").Msg("nonce received")

	// Step 2: mapping keys.
	mapPriv, mapX, mapY, err := domain.GenerateKey(rnd)
	if err != nil {
		return sm.SessionKeys{}, err
	}
	defer cryptoutils.Wipe(mapPriv)
	cardMap, err := generalAuthenticate(ctx, t,
		tlv.Encode(TagMappingTerminal, domain.Marshal(mapX, mapY)), TagMappingCard)
	if err != nil {
		return sm.SessionKeys{}, err
	}
	cmX, cmY, err := domain.Unmarshal(cardMap)
	if err != nil {
		return sm.SessionKeys{}, authFailure("card mapping key", err)
	}
	hX, hY := domain.Curve.ScalarMult(cmX, cmY, mapPriv)
	mapped := domain.Map(nonce, hX, hY)
	if !mapped.Curve.IsOnCurve(mapped.Gx, mapped.Gy) {
		return sm.SessionKeys{}, authFailure("mapped generator", nil)
	}
	logger.Debug().Str("event", "pace_step").Str("step", "mapping").Msg("generator mapped")

	// Step 3: ephemeral keys on the mapped generator.
	ephPriv, ephX, ephY, err := mapped.GenerateKey(rnd)
	if err != nil {
		return sm.SessionKeys{}, err
	}
	defer cryptoutils.Wipe(ephPriv)
	terminalPub := mapped.Marshal(ephX, ephY)
	cardPub, err := generalAuthenticate(ctx, t, tlv.Encode(TagEphemeralTerminal, terminalPub), TagEphemeralCard)
	if err != nil {
		return sm.SessionKeys{}, err
	}
	ceX, ceY, err := mapped.Unmarshal(cardPub)
	if err != nil {
		return sm.SessionKeys{}, authFailure("card ephemeral key", err)
	}
	if bytes.Equal(cardPub, terminalPub) {
		return sm.SessionKeys{}, authFailure("card echoed terminal key", nil)
	}
	secret, err := mapped.SharedX(ephPriv, ceX, ceY)
	if err != nil {
		return sm.SessionKeys{}, err
	}
	keys := sm.SessionKeys{
		Enc: cryptoutils.KDF(secret, cryptoutils.KDFCounterEnc),
		MAC: cryptoutils.KDF(secret, cryptoutils.KDFCounterMAC),
	}
	cryptoutils.Wipe(secret)
	logger.Debug().Str("event", "pace_step").Str("step", "key_agreement").Msg("session keys derived")

	// Step 4: mutual authentication.
	token, err := AuthToken(keys.MAC, params.OID, cardPub)
	if err != nil {
		keys.Wipe()

		return sm.SessionKeys{}, err
	}
	cardToken, err := generalAuthenticate(ctx, t, tlv.Encode(TagTokenTerminal, token), TagTokenCard)
	if err != nil {
		keys.Wipe()

		return sm.SessionKeys{}, err
	}
	expected, err := AuthToken(keys.MAC, params.OID, terminalPub)
	if err != nil {
		keys.Wipe()

		return sm.SessionKeys{}, err
	}
	if subtle.ConstantTimeCompare(expected, cardToken) != 1 {
		keys.Wipe()

		return sm.SessionKeys{}, authFailure("card authentication token mismatch", nil)
	}
	logger.Debug().Str("event", "pace_step").Str("step", "mutual_auth").Msg("pace established")

	return keys, nil
}

// DecryptNonce recovers the PACE nonce with KDF(CAN, 3) and a zero IV.
func DecryptNonce(can string, encrypted []byte) ([]byte, error) {
	key := cryptoutils.KDF([]byte(can), cryptoutils.KDFCounterPassword)
	defer cryptoutils.Wipe(key)
	nonce, err := cryptoutils.DecryptCBC(key, make([]byte, cryptoutils.AES_BLOCK_SIZE), encrypted)
	if err != nil {
		return nil, authFailure("nonce", err)
	}

	return nonce, nil
}

// AuthToken computes the 8-byte token over 7F49 { 06 oid, 86 point }.
func AuthToken(macKey, oid, point []byte) ([]byte, error) {
	input := tlv.Encode(TagPublicKey, append(tlv.Encode(TagOID, oid), tlv.Encode(TagECPoint, point)...))

	return cryptoutils.CMAC(macKey, input, TokenLength)
}

func setAuthenticationTemplate(ctx context.Context, t iso7816.Transceiver, p Params) error {
	var data []byte
	data = append(data, tlv.Encode(TagCryptoMechanism, p.OID)...)
	data = append(data, tlv.Encode(TagPasswordRef, []byte{PasswordCAN})...)
	data = append(data, tlv.Encode(TagDomainParams, []byte{p.ParamID})...)
	_, err := iso7816.Send(ctx, t, iso7816.Command{
		Ins:  iso7816.InsManageSecurityEnv,
		P1:   0xC1,
		P2:   0xA4,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("MSE:Set AT: %w", err)
	}

	return nil
}

// generalAuthenticate sends 7C{body} and returns the value of the expected
// tag from the 7C response. Every step but the last is flagged as chained.
func generalAuthenticate(
	ctx context.Context,
	t iso7816.Transceiver,
	body []byte,
	expected uint32,
) ([]byte, error) {
	cla := iso7816.ClaChaining
	if expected == TagTokenCard {
		cla = 0x00
	}
	data, sw, err := iso7816.Exchange(ctx, t, iso7816.Command{
		Cla:  cla,
		Ins:  iso7816.InsGeneralAuthenticate,
		Data: tlv.Encode(TagDynamicAuthData, body),
		Ne:   iso7816.MaxShortNe,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case sw == iso7816.SWWrongCAN:
		return nil, fmt.Errorf("%w: %w", errorcodes.ErrWrongCAN, errorcodes.ErrAuthentication)
	case !sw.IsSuccess():
		return nil, fmt.Errorf("%w: %w", errorcodes.ErrAuthentication, sw.Err(iso7816.InsGeneralAuthenticate))
	}

	value, err := tlv.Path(data, TagDynamicAuthData)
	if err != nil {
		return nil, authFailure("dynamic authentication data", err)
	}
	inner, _, err := tlv.Decode(value)
	if err != nil {
		return nil, authFailure("dynamic authentication data", err)
	}
	if inner.Tag != expected {
		return nil, authFailure(fmt.Sprintf("expected tag %02X, got %X", expected, inner.Tag), nil)
	}

	return inner.Value, nil
}

func authFailure(what string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", errorcodes.ErrAuthentication, what)
	}
	if errors.Is(cause, errorcodes.ErrAuthentication) {
		return fmt.Errorf("%s: %w", what, cause)
	}

	return fmt.Errorf("%w: %s: %w", errorcodes.ErrAuthentication, what, cause)
}
