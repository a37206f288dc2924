package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"strand/internal/crypto"
	"strand/internal/domain"
)

// Device is a domain.CryptoDevice backed by a session store.
type Device struct {
	log   *logging.Logger
	store domain.GroupSessionStore

	priv domain.X25519Private
	pub  domain.X25519Public
	key  domain.DeviceKey

	// mu serializes outbound session creation.
	mu sync.Mutex
}

var _ domain.CryptoDevice = (*Device)(nil)

// NewDevice returns the device of id.
func NewDevice(id domain.Identity, store domain.GroupSessionStore, log *logging.Logger) *Device {
	if log == nil {
		log = logging.MustGetLogger("session")
	}
	return &Device{
		log:   log,
		store: store,
		priv:  id.XPriv,
		pub:   id.XPub,
		key:   crypto.DeviceKeyOf(id.XPub),
	}
}

func (d *Device) DeviceKey() domain.DeviceKey { return d.key }

// FallbackKey is the compact key id of the device key.
func (d *Device) FallbackKey() string { return crypto.KeyID(d.pub.Slice()) }

// DecryptWithDeviceKey opens a box sealed to this device.
func (d *Device) DecryptWithDeviceKey(ciphertext []byte, senderKey domain.DeviceKey) ([]byte, error) {
	pt, err := crypto.OpenFromDevice(d.priv, d.pub, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("open box from %s: %w", senderKey, err)
	}
	return pt, nil
}

// EncryptForDevice seals plaintext to recipient.
func (d *Device) EncryptForDevice(plaintext []byte, recipient domain.DeviceKey) ([]byte, error) {
	pub, err := crypto.ParseDeviceKey(recipient)
	if err != nil {
		return nil, err
	}
	return crypto.SealForDevice(pub, plaintext)
}

func (d *Device) HasInboundGroupSession(streamID domain.StreamID, sessionID domain.SessionID) (bool, error) {
	s, err := d.store.InboundSession(streamID, sessionID)
	return s != nil, err
}

func (d *Device) ImportSessionKeys(streamID domain.StreamID, sessions []domain.GroupSession) error {
	for _, s := range sessions {
		if s.Algorithm != "" && s.Algorithm != domain.GroupSessionAlgorithm {
			return fmt.Errorf("session %s: unsupported algorithm %q", s.SessionID, s.Algorithm)
		}
	}
	if err := d.store.PutInboundSessions(streamID, sessions); err != nil {
		return err
	}
	d.log.Debugf("imported %d sessions for %s", len(sessions), streamID.Short())
	return nil
}

func (d *Device) ExportInboundGroupSession(
	streamID domain.StreamID,
	sessionID domain.SessionID,
) (*domain.GroupSession, error) {
	s, err := d.store.InboundSession(streamID, sessionID)
	if err != nil || s == nil {
		return nil, err
	}
	s.Algorithm = domain.GroupSessionAlgorithm
	return s, nil
}

func (d *Device) GetInboundGroupSessionIDs(streamID domain.StreamID) ([]domain.SessionID, error) {
	return d.store.InboundSessionIDs(streamID)
}

// OutboundSession returns the session new content of streamID is encrypted
// with, creating it on first use.
func (d *Device) OutboundSession(streamID domain.StreamID) (domain.GroupSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.store.OutboundSession(streamID)
	if err != nil {
		return domain.GroupSession{}, err
	}
	if s != nil {
		return *s, nil
	}
	return d.rotateLocked(streamID)
}

// RotateOutboundSession replaces the outbound session of streamID.
func (d *Device) RotateOutboundSession(streamID domain.StreamID) (domain.GroupSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotateLocked(streamID)
}

func (d *Device) rotateLocked(streamID domain.StreamID) (domain.GroupSession, error) {
	key, err := crypto.NewGroupSessionKey()
	if err != nil {
		return domain.GroupSession{}, err
	}
	s := domain.GroupSession{
		StreamID:   streamID,
		SessionID:  domain.SessionID(uuid.NewString()),
		SessionKey: key,
		Algorithm:  domain.GroupSessionAlgorithm,
	}
	if err := d.store.PutOutboundSession(s); err != nil {
		return domain.GroupSession{}, err
	}
	d.log.Infof("new outbound session %s for %s", s.SessionID, streamID.Short())
	return s, nil
}

func (d *Device) EncryptGroup(streamID domain.StreamID, plaintext []byte) (domain.EncryptedData, error) {
	s, err := d.OutboundSession(streamID)
	if err != nil {
		return domain.EncryptedData{}, err
	}
	ct, err := crypto.GroupSeal(s.SessionKey, plaintext, associatedData(streamID, s.SessionID))
	if err != nil {
		return domain.EncryptedData{}, err
	}
	return domain.EncryptedData{
		Ciphertext: ct,
		Algorithm:  domain.GroupSessionAlgorithm,
		SenderKey:  d.key,
		SessionID:  s.SessionID,
	}, nil
}

// DecryptGroup fails with domain.ErrSessionNotFound when the session of data
// is not held.
func (d *Device) DecryptGroup(streamID domain.StreamID, data domain.EncryptedData) ([]byte, error) {
	if data.Algorithm != domain.GroupSessionAlgorithm {
		return nil, fmt.Errorf("unsupported algorithm %q", data.Algorithm)
	}
	s, err := d.store.InboundSession(streamID, data.SessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: stream %s session %s", domain.ErrSessionNotFound, streamID.Short(), data.SessionID)
	}
	return crypto.GroupOpen(s.SessionKey, data.Ciphertext, associatedData(streamID, data.SessionID))
}

func associatedData(streamID domain.StreamID, sessionID domain.SessionID) []byte {
	return []byte(string(streamID) + "/" + string(sessionID))
}
