package cardsim

import (
	"bytes"
	"crypto/subtle"

	"github.com/andrei-cloud/go_eid/pkg/cryptoutils"
	"github.com/andrei-cloud/go_eid/pkg/ecc"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
	"github.com/andrei-cloud/go_eid/pkg/tlv"
)

type paceStep int

const (
	stepNonce paceStep = iota
	stepMapping
	stepAgreement
	stepToken
)

type paceState struct {
	step     paceStep
	nonce    []byte
	mapped   ecc.Domain
	cardPub  []byte
	termPub  []byte
	enc, mac []byte
}

// setAuthenticationTemplate handles MSE:Set AT for PACE.
func (c *Card) setAuthenticationTemplate(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	c.pace = nil
	records, err := tlv.DecodeAll(cmd.Data)
	if err != nil {
		return nil, iso7816.SWWrongData
	}
	oid, ok := tlv.Find(records, 0x80)
	if !ok || !bytes.Equal(oid.Value, paceOID) {
		return nil, iso7816.SWReferenceNotFound
	}
	pwd, ok := tlv.Find(records, 0x83)
	if !ok || !bytes.Equal(pwd.Value, []byte{0x02}) {
		return nil, iso7816.SWReferenceNotFound
	}
	param, ok := tlv.Find(records, 0x84)
	if !ok || !bytes.Equal(param.Value, []byte{c.cfg.ParamID}) {
		return nil, iso7816.SWReferenceNotFound
	}
	c.pace = &paceState{step: stepNonce}

	return nil, iso7816.SWSuccess
}

func (c *Card) generalAuthenticate(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	st := c.pace
	if st == nil {
		return nil, swConditionsNotSatisfied
	}
	body, err := tlv.Path(cmd.Data, 0x7C)
	if err != nil {
		c.pace = nil

		return nil, iso7816.SWWrongData
	}
	objects, err := tlv.DecodeAll(body)
	if err != nil {
		c.pace = nil

		return nil, iso7816.SWWrongData
	}

	switch st.step {
	case stepNonce:
		st.nonce = make([]byte, cryptoutils.AES_BLOCK_SIZE)
		if _, err := c.cfg.Rand.Read(st.nonce); err != nil {
			return nil, swConditionsNotSatisfied
		}
		key := cryptoutils.KDF([]byte(c.cfg.CAN), cryptoutils.KDFCounterPassword)
		enc, err := cryptoutils.EncryptCBC(key, make([]byte, cryptoutils.AES_BLOCK_SIZE), st.nonce)
		if err != nil {
			return nil, swConditionsNotSatisfied
		}
		st.step = stepMapping

		return tlv.Encode(0x7C, tlv.Encode(0x80, enc)), iso7816.SWSuccess

	case stepMapping:
		obj, ok := tlv.Find(objects, 0x81)
		if !ok {
			return c.abortPACE(iso7816.SWWrongData)
		}
		tx, ty, err := c.domain.Unmarshal(obj.Value)
		if err != nil {
			return c.abortPACE(iso7816.SWWrongData)
		}
		priv, px, py, err := c.domain.GenerateKey(c.cfg.Rand)
		if err != nil {
			return c.abortPACE(swConditionsNotSatisfied)
		}
		hx, hy := c.domain.Curve.ScalarMult(tx, ty, priv)
		st.mapped = c.domain.Map(st.nonce, hx, hy)
		st.step = stepAgreement

		return tlv.Encode(0x7C, tlv.Encode(0x82, c.domain.Marshal(px, py))), iso7816.SWSuccess

	case stepAgreement:
		obj, ok := tlv.Find(objects, 0x83)
		if !ok {
			return c.abortPACE(iso7816.SWWrongData)
		}
		tx, ty, err := st.mapped.Unmarshal(obj.Value)
		if err != nil {
			return c.abortPACE(iso7816.SWWrongData)
		}
		priv, px, py, err := st.mapped.GenerateKey(c.cfg.Rand)
		if err != nil {
			return c.abortPACE(swConditionsNotSatisfied)
		}
		secret, err := st.mapped.SharedX(priv, tx, ty)
		if err != nil {
			return c.abortPACE(iso7816.SWWrongData)
		}
		st.enc = cryptoutils.KDF(secret, cryptoutils.KDFCounterEnc)
		st.mac = cryptoutils.KDF(secret, cryptoutils.KDFCounterMAC)
		st.termPub = append([]byte(nil), obj.Value...)
		st.cardPub = st.mapped.Marshal(px, py)
		st.step = stepToken

		return tlv.Encode(0x7C, tlv.Encode(0x84, st.cardPub)), iso7816.SWSuccess

	case stepToken:
		obj, ok := tlv.Find(objects, 0x85)
		if !ok {
			return c.abortPACE(iso7816.SWWrongData)
		}
		want, err := authToken(st.mac, st.cardPub)
		if err != nil || subtle.ConstantTimeCompare(want, obj.Value) != 1 {
			return c.abortPACE(iso7816.SWWrongCAN)
		}
		reply, err := authToken(st.mac, st.termPub)
		if err != nil {
			return c.abortPACE(swConditionsNotSatisfied)
		}
		c.sm = newSecureState(st.enc, st.mac)
		c.pace = nil

		return tlv.Encode(0x7C, tlv.Encode(0x86, reply)), iso7816.SWSuccess
	}

	return c.abortPACE(swConditionsNotSatisfied)
}

func (c *Card) abortPACE(sw iso7816.StatusWord) ([]byte, iso7816.StatusWord) {
	c.pace = nil

	return nil, sw
}

func authToken(mac, point []byte) ([]byte, error) {
	input := tlv.Encode(0x7F49, append(tlv.Encode(0x06, paceOID), tlv.Encode(0x86, point)...))

	return cryptoutils.CMAC(mac, input, 8)
}
