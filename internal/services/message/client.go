package message

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"strand/internal/domain"
	"strand/internal/metrics"
	"strand/internal/protocol/events"
	"strand/internal/stream"
)

// Tracker holds the streams this client keeps in sync.
type Tracker interface {
	AddStream(st *stream.State)
	Stream(id domain.StreamID) (*stream.State, bool)
}

// Client posts events as one device of one user.
type Client struct {
	log       *logging.Logger
	transport domain.Transport
	tracker   Tracker
	signer    domain.SignerIdentity
	device    domain.CryptoDevice
	directory domain.DeviceKeyDirectory

	// shared holds the outbound sessions already delivered to the members
	// of their stream.
	mu     sync.Mutex
	shared map[domain.SessionID]struct{}
}

var _ domain.KeyExchangeClient = (*Client)(nil)

// New returns a Client. Streams loaded by the client are handed to tracker.
func New(
	transport domain.Transport,
	tracker Tracker,
	signer domain.SignerIdentity,
	device domain.CryptoDevice,
	directory domain.DeviceKeyDirectory,
	log *logging.Logger,
) *Client {
	if log == nil {
		log = logging.MustGetLogger("message")
	}
	return &Client{
		log:       log,
		transport: transport,
		tracker:   tracker,
		signer:    signer,
		device:    device,
		directory: directory,
		shared:    make(map[domain.SessionID]struct{}),
	}
}

func (c *Client) UserAddress() domain.Address { return c.signer.CreatorAddress }

func (c *Client) UploadDeviceKeys(ctx context.Context) error {
	return c.directory.Upload(ctx)
}

// DownloadInbox loads the user's inbox stream and starts tracking it.
func (c *Client) DownloadInbox(ctx context.Context) error {
	id, err := c.inboxOf(c.UserAddress())
	if err != nil {
		return err
	}
	_, err = c.LoadStream(ctx, id)
	return err
}

// AckInbox records that this device has processed the inbox up to
// miniblockNum.
func (c *Client) AckInbox(ctx context.Context, miniblockNum int64) error {
	id, err := c.inboxOf(c.UserAddress())
	if err != nil {
		return err
	}
	return c.post(ctx, id, domain.Payload{InboxAck: &domain.InboxAck{
		DeviceKey:    c.device.DeviceKey(),
		MiniblockNum: miniblockNum,
	}})
}

func (c *Client) SendKeySolicitation(
	ctx context.Context,
	streamID domain.StreamID,
	solicitation domain.KeySolicitation,
) error {
	return c.post(ctx, streamID, domain.Payload{KeySolicitation: &solicitation})
}

func (c *Client) SendKeyFulfillment(
	ctx context.Context,
	streamID domain.StreamID,
	fulfillment domain.KeyFulfillment,
) error {
	return c.post(ctx, streamID, domain.Payload{KeyFulfillment: &fulfillment})
}

// ShareSessions seals sessions to toDevice and posts them to toUser's inbox.
func (c *Client) ShareSessions(
	ctx context.Context,
	streamID domain.StreamID,
	toUser domain.Address,
	toDevice domain.DeviceKey,
	sessions []domain.GroupSession,
) error {
	return c.share(ctx, streamID, toUser, []domain.DeviceKey{toDevice}, sessions)
}

// LoadStream fetches streamID from the node, verifies it and tracks it.
// A stream that is already tracked is returned as is.
func (c *Client) LoadStream(ctx context.Context, streamID domain.StreamID) (*stream.State, error) {
	if st, ok := c.tracker.Stream(streamID); ok {
		return st, nil
	}
	sc, err := c.transport.GetStream(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", streamID.Short(), err)
	}
	st, err := stream.Load(streamID, sc, c.log)
	if err != nil {
		return nil, err
	}
	c.tracker.AddStream(st)
	c.log.Debugf("loaded %s", st)
	return st, nil
}

// SendMessage encrypts plaintext with the stream's outbound session and
// posts it. The first message of a session is preceded by a delivery of the
// session to every other device of every joined member.
func (c *Client) SendMessage(ctx context.Context, streamID domain.StreamID, plaintext []byte) error {
	st, err := c.LoadStream(ctx, streamID)
	if err != nil {
		return err
	}
	data, err := c.device.EncryptGroup(streamID, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	if err := c.distribute(ctx, st, data.SessionID); err != nil {
		return err
	}
	return c.post(ctx, streamID, domain.Payload{Message: &domain.Message{Data: data}})
}

// distribute shares sessionID with the joined members of st once.
func (c *Client) distribute(ctx context.Context, st *stream.State, sessionID domain.SessionID) error {
	c.mu.Lock()
	_, done := c.shared[sessionID]
	c.mu.Unlock()
	if done {
		return nil
	}

	gs, err := c.device.ExportInboundGroupSession(st.StreamID(), sessionID)
	if err != nil {
		return fmt.Errorf("export session %s: %w", sessionID, err)
	}
	if gs == nil {
		return fmt.Errorf("export session %s: %w", sessionID, domain.ErrSessionNotFound)
	}

	own := c.device.DeviceKey()
	for _, user := range st.Members().Joined() {
		uploads, err := c.directory.DeviceKeys(ctx, user)
		if err != nil {
			return err
		}
		devices := make([]domain.DeviceKey, 0, len(uploads))
		for _, u := range uploads {
			if u.DeviceKey != own {
				devices = append(devices, u.DeviceKey)
			}
		}
		if len(devices) == 0 {
			continue
		}
		if err := c.share(ctx, st.StreamID(), user, devices, []domain.GroupSession{*gs}); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.shared[sessionID] = struct{}{}
	c.mu.Unlock()
	return nil
}

// share posts one GroupSessions event to toUser's inbox carrying sessions
// sealed to each of devices.
func (c *Client) share(
	ctx context.Context,
	streamID domain.StreamID,
	toUser domain.Address,
	devices []domain.DeviceKey,
	sessions []domain.GroupSession,
) error {
	if len(sessions) == 0 || len(devices) == 0 {
		return nil
	}
	bundle, err := events.MarshalSessionBundle(domain.SessionBundle{Sessions: sessions})
	if err != nil {
		return err
	}
	gs := domain.GroupSessions{
		StreamID:    streamID,
		SenderKey:   c.device.DeviceKey(),
		Ciphertexts: make(map[domain.DeviceKey][]byte, len(devices)),
		Algorithm:   domain.GroupSessionAlgorithm,
	}
	for _, s := range sessions {
		gs.SessionIDs = append(gs.SessionIDs, s.SessionID)
	}
	for _, d := range devices {
		ct, err := c.device.EncryptForDevice(bundle, d)
		if err != nil {
			return fmt.Errorf("seal sessions for %s: %w", d, err)
		}
		gs.Ciphertexts[d] = ct
	}
	inbox, err := c.inboxOf(toUser)
	if err != nil {
		return err
	}
	c.log.Debugf("sharing %d sessions of %s with %d devices of %s",
		len(sessions), streamID.Short(), len(devices), toUser.Hex())
	return c.post(ctx, inbox, domain.Payload{GroupSessions: &gs})
}

// post builds payload on top of the stream's current tips and adds it.
// Tips come from the tracked state when there is one, otherwise from the
// node's last miniblock.
func (c *Client) post(ctx context.Context, streamID domain.StreamID, payload domain.Payload) error {
	prev, err := c.tips(ctx, streamID)
	if err != nil {
		return err
	}
	env, err := events.BuildEvent(c.signer, payload, events.HashesToBytes(prev))
	if err != nil {
		return err
	}
	if err := c.transport.AddEvent(ctx, streamID, env); err != nil {
		return fmt.Errorf("add %s event to %s: %w", payload.Case(), streamID.Short(), err)
	}
	metrics.EventPosted(payload.Case().String())
	return nil
}

func (c *Client) tips(ctx context.Context, streamID domain.StreamID) ([]domain.Hash, error) {
	if st, ok := c.tracker.Stream(streamID); ok {
		if leaves := st.LeafEventHashes(); len(leaves) > 0 {
			return leaves, nil
		}
	}
	last, err := c.transport.GetLastMiniblockHash(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("last miniblock of %s: %w", streamID.Short(), err)
	}
	return []domain.Hash{last.Hash}, nil
}

func (c *Client) inboxOf(user domain.Address) (domain.StreamID, error) {
	return domain.UserStreamID(domain.KindInbox, user)
}
