// Package cardsim is an in-process eID card. It answers raw APDUs the way the
// Idemia and Thales eID applets do: EF.CardAccess and the card side of PACE,
// secure messaging, the vendor file layouts, PIN state and on-card ECDSA keys.
package cardsim

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andrei-cloud/go_eid/pkg/ecc"
	"github.com/andrei-cloud/go_eid/pkg/iso7816"
)

// ErrCardRemoved is returned by Transmit after Remove.
var ErrCardRemoved = errors.New("cardsim: card removed")

// Vendor selects the applet layout.
type Vendor int

const (
	Idemia Vendor = iota
	Thales
)

func (v Vendor) String() string {
	switch v {
	case Idemia:
		return "idemia"
	case Thales:
		return "thales"
	default:
		return fmt.Sprintf("vendor(%d)", int(v))
	}
}

// ParseVendor maps a vendor name to a Vendor.
func ParseVendor(name string) (Vendor, error) {
	switch name {
	case "idemia":
		return Idemia, nil
	case "thales":
		return Thales, nil
	default:
		return 0, fmt.Errorf("cardsim: unknown vendor %q", name)
	}
}

// Holder is the personal data file content.
type Holder struct {
	Surname        string
	GivenNames     string
	Sex            string
	Citizenship    string
	Birth          string
	PersonalCode   string
	DocumentNumber string
	Expiry         string
}

// DefaultHolder is the Estonian test person.
var DefaultHolder = Holder{
	Surname:        "JÕEORG",
	GivenNames:     "JAAK-KRISTJAN",
	Sex:            "M",
	Citizenship:    "EST",
	Birth:          "08 01 1980 EST",
	PersonalCode:   "38001085718",
	DocumentNumber: "AS0000000",
	Expiry:         "01 01 2030",
}

// Config describes a simulated card. Zero fields take defaults.
type Config struct {
	Vendor  Vendor
	CAN     string
	ParamID byte
	PIN1    string
	PIN2    string
	PUK     string
	Tries   int
	Holder  *Holder

	// ResponseChunk splits raw responses longer than this many bytes
	// with 61xx and GET RESPONSE.
	ResponseChunk int
	// LengthHints answers 6Cxx to a plain READ BINARY whose Le exceeds the
	// remaining file length.
	LengthHints bool

	Rand io.Reader
}

// Default secrets.
const (
	DefaultCAN  = "123456"
	DefaultPIN1 = "1234"
	DefaultPIN2 = "12345"
	DefaultPUK  = "17258403"
)

func (c *Config) setDefaults() {
	if c.CAN == "" {
		c.CAN = DefaultCAN
	}
	if c.ParamID == 0 {
		c.ParamID = ecc.ParamBP256r1
	}
	if c.PIN1 == "" {
		c.PIN1 = DefaultPIN1
	}
	if c.PIN2 == "" {
		c.PIN2 = DefaultPIN2
	}
	if c.PUK == "" {
		c.PUK = DefaultPUK
	}
	if c.Tries == 0 {
		c.Tries = 3
	}
	if c.Holder == nil {
		h := DefaultHolder
		c.Holder = &h
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
}

// Card is a simulated contactless eID card. It implements iso7816.Card and
// is safe for use by one reader at a time.
type Card struct {
	mu sync.Mutex

	cfg     Config
	profile *profile
	domain  ecc.Domain

	files   map[string][]byte
	dfs     map[string]bool
	current []byte

	pins     map[byte]*pinState
	verified map[byte]bool
	keys     map[byte]*ecdsa.PrivateKey
	certs    map[byte][]byte
	env      *securityEnv
	hash     []byte

	pace *paceState
	sm   *secureState
	echo bool

	pending   []byte
	pendingSW iso7816.StatusWord
	removed   bool
	transmits int
	commands  []iso7816.Command
}

// New builds a card with fresh keys and self-signed certificates.
func New(cfg Config) (*Card, error) {
	cfg.setDefaults()
	p, err := profileFor(cfg.Vendor)
	if err != nil {
		return nil, err
	}
	domain, err := ecc.ByParamID(cfg.ParamID)
	if err != nil {
		return nil, err
	}

	c := &Card{
		cfg:      cfg,
		profile:  p,
		domain:   domain,
		files:    map[string][]byte{},
		dfs:      map[string]bool{},
		pins:     map[byte]*pinState{},
		verified: map[byte]bool{},
		keys:     map[byte]*ecdsa.PrivateKey{},
		certs:    map[byte][]byte{},
	}
	c.files[hexKey(efCardAccess)] = cardAccess(cfg.ParamID)
	c.dfs[hexKey(p.personalDF)] = true
	for i, rec := range records(cfg.Holder) {
		c.files[hexKey([]byte{0x50, byte(i + 1)})] = []byte(rec)
	}

	c.pins[p.pin1] = newPinState(p.template(cfg.PIN1), cfg.Tries)
	c.pins[p.pin2] = newPinState(p.template(cfg.PIN2), cfg.Tries)
	c.pins[p.puk] = newPinState(p.template(cfg.PUK), cfg.Tries)

	if err := c.issueKeys(); err != nil {
		return nil, err
	}

	return c, nil
}

// NewSecureEcho returns a card already in secure messaging with the given
// keys and a zero counter. It returns every unwrapped command body as the
// response data with 9000.
func NewSecureEcho(enc, mac []byte) *Card {
	return &Card{
		echo: true,
		sm:   newSecureState(enc, mac),
	}
}

// Transmit implements iso7816.Card.
func (c *Card) Transmit(raw []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transmits++
	if c.removed {
		return nil, ErrCardRemoved
	}
	cmd, err := iso7816.ParseCommand(raw)
	if err != nil {
		return iso7816.EncodeResponse(nil, swWrongLength), nil
	}

	if cmd.Ins == iso7816.InsGetResponse && cmd.Cla&iso7816.ClaSecureMessaging == 0 {
		return c.getResponse(cmd), nil
	}
	c.pending = nil

	var (
		data []byte
		sw   iso7816.StatusWord
	)
	if c.sm != nil {
		data, sw = c.secure(cmd)
	} else {
		data, sw = c.handle(cmd)
	}

	return c.chunk(data, sw), nil
}

// SetResponseChunk changes the 61xx split size; 0 disables splitting.
func (c *Card) SetResponseChunk(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.ResponseChunk = n
}

// ATR returns the answer to reset of the simulated applet.
func (c *Card) ATR() []byte {
	if c.profile == nil {
		return nil
	}

	return append([]byte(nil), c.profile.atr...)
}

// InitialAID is the AID the reader reports as selected at connection time.
func (c *Card) InitialAID() []byte {
	if c.profile == nil {
		return nil
	}

	return append([]byte(nil), c.profile.initialAID...)
}

// Remove makes every later Transmit fail as if the card left the field.
func (c *Card) Remove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = true
}

// Transmits counts raw Transmit calls.
func (c *Card) Transmits() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.transmits
}

// Commands returns the commands the applet processed, after secure messaging
// was removed.
func (c *Card) Commands() []iso7816.Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]iso7816.Command(nil), c.commands...)
}

// Secure reports whether a secure messaging session is active.
func (c *Card) Secure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sm != nil
}

// AuthCertificate returns the DER authentication certificate.
func (c *Card) AuthCertificate() []byte {
	return c.certs[c.profile.authKey]
}

// SignCertificate returns the DER signing certificate.
func (c *Card) SignCertificate() []byte {
	return c.certs[c.profile.signKey]
}

// Tries returns the remaining tries of the code with the given reference.
func (c *Card) Tries(ref byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pins[ref]; ok {
		return p.tries
	}

	return -1
}

func (c *Card) handle(cmd iso7816.Command) ([]byte, iso7816.StatusWord) {
	c.commands = append(c.commands, cmd)
	if c.echo {
		return append([]byte(nil), cmd.Data...), iso7816.SWSuccess
	}

	switch cmd.Ins {
	case iso7816.InsSelect:
		return c.selectFile(cmd)
	case iso7816.InsReadBinary:
		return c.readBinary(cmd)
	case iso7816.InsManageSecurityEnv:
		if cmd.P1 == 0xC1 && cmd.P2 == 0xA4 {
			return c.setAuthenticationTemplate(cmd)
		}

		return c.setSecurityEnv(cmd)
	case iso7816.InsGeneralAuthenticate:
		return c.generalAuthenticate(cmd)
	case iso7816.InsVerify:
		return c.verify(cmd)
	case iso7816.InsChangeReferenceData:
		return c.change(cmd)
	case iso7816.InsResetRetryCounter:
		return c.resetRetryCounter(cmd)
	case iso7816.InsGetData:
		return c.getData(cmd)
	case iso7816.InsInternalAuthenticate:
		return c.internalAuthenticate(cmd)
	case iso7816.InsPerformSecurityOp:
		return c.performSecurityOperation(cmd)
	default:
		return nil, iso7816.SWInstructionNotSupported
	}
}

// chunk returns data with sw, or its first part with 61xx when chunking is on.
func (c *Card) chunk(data []byte, sw iso7816.StatusWord) []byte {
	n := c.cfg.ResponseChunk
	if n <= 0 || len(data) <= n {
		return iso7816.EncodeResponse(data, sw)
	}
	c.pending = append([]byte(nil), data[n:]...)
	c.pendingSW = sw

	return iso7816.EncodeResponse(data[:n], moreData(len(c.pending)))
}

func (c *Card) getResponse(cmd iso7816.Command) []byte {
	if c.pending == nil {
		return iso7816.EncodeResponse(nil, swConditionsNotSatisfied)
	}
	n := cmd.Ne
	if n <= 0 || n > len(c.pending) {
		n = len(c.pending)
	}
	if c.cfg.ResponseChunk > 0 && n > c.cfg.ResponseChunk {
		n = c.cfg.ResponseChunk
	}
	out := c.pending[:n]
	c.pending = c.pending[n:]
	if len(c.pending) > 0 {
		return iso7816.EncodeResponse(out, moreData(len(c.pending)))
	}
	c.pending = nil

	return iso7816.EncodeResponse(out, c.pendingSW)
}

func moreData(remaining int) iso7816.StatusWord {
	if remaining >= iso7816.MaxShortNe {
		return iso7816.NewStatusWord(0x61, 0x00)
	}

	return iso7816.NewStatusWord(0x61, byte(remaining))
}

// Status words used only by the card side.
const (
	swWrongLength            iso7816.StatusWord = 0x6700
	swConditionsNotSatisfied iso7816.StatusWord = 0x6985
	swIncorrectParameters    iso7816.StatusWord = 0x6B00
	swNoCurrentEF            iso7816.StatusWord = 0x6986
	swIncorrectP1P2          iso7816.StatusWord = 0x6A86
)
