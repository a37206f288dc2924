package keyexchange

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"strand/internal/domain"
	"strand/internal/metrics"
	"strand/internal/protocol/events"
	"strand/internal/stream"
)

var errBadSessionBundle = errors.New("keyexchange: session bundle does not match session ids")

// processNewGroupSession imports the sessions of an inbox delivery.
//
// Steps:
//  1. Skip deliveries with no ciphertext for our device.
//  2. Skip session ids we already hold.
//  3. Open the ciphertext with the device key and check the bundle carries
//     one key per session id.
//  4. Import the missing sessions and requeue content that failed for them.
//  5. Once the queue is drained, acknowledge the inbox.
func (s *Scheduler) processNewGroupSession(ctx context.Context, d *stream.GroupSessionsDelivery) error {
	gs := d.GroupSessions
	defer func() {
		if len(s.q.newGroupSessions) == 0 {
			if err := s.ackInbox(ctx); err != nil {
				s.log.Warningf("ack inbox: %v", err)
			}
		}
	}()

	ciphertext, ok := gs.Ciphertexts[s.deviceKey]
	if !ok {
		s.log.Debugf("no sessions for our device in %s", d.EventHash.Hex())
		return nil
	}
	var needed []int
	for i, id := range gs.SessionIDs {
		has, err := s.device.HasInboundGroupSession(gs.StreamID, id)
		if err != nil {
			return err
		}
		if !has {
			needed = append(needed, i)
		}
	}
	if len(needed) == 0 {
		s.log.Debugf("already hold every session in %s", d.EventHash.Hex())
		return nil
	}

	plaintext, err := s.device.DecryptWithDeviceKey(ciphertext, gs.SenderKey)
	if err != nil {
		return fmt.Errorf("open session bundle: %w", err)
	}
	bundle, err := events.UnmarshalSessionBundle(plaintext)
	if err != nil {
		return err
	}
	if len(bundle.Sessions) != len(gs.SessionIDs) {
		return fmt.Errorf("%w: %d keys for %d ids", errBadSessionBundle, len(bundle.Sessions), len(gs.SessionIDs))
	}

	sessions := make([]domain.GroupSession, 0, len(needed))
	for _, i := range needed {
		algorithm := gs.Algorithm
		if algorithm == "" {
			algorithm = bundle.Sessions[i].Algorithm
		}
		sessions = append(sessions, domain.GroupSession{
			StreamID:   gs.StreamID,
			SessionID:  gs.SessionIDs[i],
			SessionKey: bundle.Sessions[i].SessionKey,
			Algorithm:  algorithm,
		})
	}
	s.log.Infof("importing %d group sessions for %s", len(sessions), gs.StreamID.Short())
	if err := s.device.ImportSessionKeys(gs.StreamID, sessions); err != nil {
		return fmt.Errorf("import sessions: %w", err)
	}
	metrics.SessionsImported(len(sessions))

	for _, sess := range sessions {
		s.requeueFailures(sess.StreamID, sess.SessionID)
	}
	return nil
}

// ackInbox records on the inbox stream how far this device has read it.
func (s *Scheduler) ackInbox(ctx context.Context) error {
	st, ok := s.router.Stream(s.inboxID)
	if !ok {
		return nil
	}
	last := st.MiniblockInfo().Max
	if last < 0 {
		return nil
	}
	if inbox, ok := st.View().(*stream.InboxView); ok && inbox.LastAck(s.deviceKey) >= last {
		return nil
	}
	return s.client.AckInbox(ctx, last)
}

// processEncryptedContent decrypts newly seen content. Content whose session
// is still pending confirmation in our inbox is deferred briefly instead.
func (s *Scheduler) processEncryptedContent(ctx context.Context, item *contentItem) error {
	if s.sessionPending(item.streamID(), item.sessionID()) {
		s.log.Debugf("session %s pending in inbox, deferring", item.sessionID())
		s.q.decryptionRetries.Enqueue(dueAt(s.now().Add(s.cfg.PendingSessionDelay)), item)
		return nil
	}
	return s.decrypt(ctx, item, false)
}

// processDecryptionRetry decrypts content again. Repeated session-not-found
// failures schedule a key solicitation for the stream.
func (s *Scheduler) processDecryptionRetry(ctx context.Context, item *contentItem) error {
	return s.decrypt(ctx, item, true)
}

func (s *Scheduler) decrypt(_ context.Context, item *contentItem, retry bool) error {
	plaintext, cached, err := s.open(item)
	if err == nil {
		s.clearFailure(item)
		s.deliver(item, plaintext, cached)
		return nil
	}

	notFound := isSessionNotFound(err)
	item.attempts++
	if notFound {
		metrics.DecryptionFailure("sessionNotFound")
		s.recordFailure(item)
	} else {
		metrics.DecryptionFailure("other")
		s.log.Warningf("decrypt %s on %s: %v", item.content.EventHash.Hex(), item.streamID().Short(), err)
	}

	if !retry {
		delay := s.cfg.FirstRetryDelay
		if item.attempts > 1 {
			delay = s.cfg.RepeatRetryDelay
		}
		s.q.decryptionRetries.Enqueue(dueAt(s.now().Add(delay)), item)
		s.log.Debugf("decrypt failed (sessionNotFound=%v), retry in %v", notFound, delay)
		return nil
	}
	if notFound {
		s.scheduleMissingKeys(item.streamID())
	}
	return nil
}

// open returns the plaintext of item from the cleartext cache or by
// decrypting it with the group session.
func (s *Scheduler) open(item *contentItem) ([]byte, bool, error) {
	if s.cleartexts != nil {
		m, err := s.cleartexts.GetCleartexts([]domain.Hash{item.content.EventHash})
		if err != nil {
			s.log.Warningf("cleartext cache: %v", err)
		} else if pt, ok := m[item.content.EventHash]; ok {
			return pt, true, nil
		}
	}
	pt, err := s.device.DecryptGroup(item.streamID(), item.content.Data)
	return pt, false, err
}

func (s *Scheduler) deliver(item *contentItem, plaintext []byte, cached bool) {
	if s.cleartexts != nil && !cached {
		if err := s.cleartexts.SaveCleartext(item.content.EventHash, plaintext); err != nil {
			s.log.Warningf("cache cleartext: %v", err)
		}
	}
	metrics.Decrypted()
	st, ok := s.router.Stream(item.streamID())
	if !ok {
		return
	}
	st.ApplyDecrypted(domain.DecryptedContent{
		StreamID:       item.content.StreamID,
		EventHash:      item.content.EventHash,
		Kind:           item.content.Kind,
		CreatorAddress: item.content.CreatorAddress,
		Plaintext:      plaintext,
	})
}

func (s *Scheduler) sessionPending(streamID domain.StreamID, sessionID domain.SessionID) bool {
	st, ok := s.router.Stream(s.inboxID)
	if !ok {
		return false
	}
	inbox, ok := st.View().(*stream.InboxView)
	return ok && inbox.HasPendingSession(streamID, sessionID)
}

func (s *Scheduler) recordFailure(item *contentItem) {
	bySession := s.failures[item.streamID()]
	if bySession == nil {
		bySession = make(map[domain.SessionID][]*contentItem)
		s.failures[item.streamID()] = bySession
	}
	if !slices.Contains(bySession[item.sessionID()], item) {
		bySession[item.sessionID()] = append(bySession[item.sessionID()], item)
	}
}

func (s *Scheduler) clearFailure(item *contentItem) {
	bySession := s.failures[item.streamID()]
	items := slices.DeleteFunc(bySession[item.sessionID()], func(it *contentItem) bool { return it == item })
	if len(items) == 0 {
		delete(bySession, item.sessionID())
	} else {
		bySession[item.sessionID()] = items
	}
	if len(bySession) == 0 {
		delete(s.failures, item.streamID())
	}
}

// requeueFailures moves content that failed for a now imported session back
// onto the encrypted content queue.
func (s *Scheduler) requeueFailures(streamID domain.StreamID, sessionID domain.SessionID) {
	items := s.failures[streamID][sessionID]
	if len(items) == 0 {
		return
	}
	delete(s.failures[streamID], sessionID)
	if len(s.failures[streamID]) == 0 {
		delete(s.failures, streamID)
	}
	s.q.decryptionRetries.Filter(func(it *contentItem) bool { return slices.Contains(items, it) })
	s.q.encryptedContent = append(s.q.encryptedContent, items...)
	s.log.Debugf("requeued %d items for session %s", len(items), sessionID)
}

// scheduleMissingKeys keeps at most one pending key request per stream.
func (s *Scheduler) scheduleMissingKeys(streamID domain.StreamID) {
	s.q.missingKeys.Filter(func(id domain.StreamID) bool { return id == streamID })
	s.q.missingKeys.Enqueue(dueAt(s.now().Add(s.cfg.MissingKeysDelay)), streamID)
}

// processMissingKeys asks the members of a stream for the sessions our
// failed content needs.
func (s *Scheduler) processMissingKeys(ctx context.Context, streamID domain.StreamID) error {
	missing := slices.Sorted(maps.Keys(s.failures[streamID]))
	if len(missing) > s.cfg.MaxSolicitedSessions {
		missing = missing[:s.cfg.MaxSolicitedSessions]
	}
	if len(missing) == 0 {
		return nil
	}
	st, ok := s.router.Stream(streamID)
	if !ok {
		return nil
	}
	if existing, ok := st.Members().Solicitation(s.userAddress, s.deviceKey); ok &&
		(existing.IsNewDevice || slices.Equal(existing.SessionIDs, missing)) {
		s.log.Debugf("already requested keys on %s", streamID.Short())
		return nil
	}

	known, err := s.device.GetInboundGroupSessionIDs(streamID)
	if err != nil {
		return err
	}
	isNewDevice := len(known) == 0
	sol := domain.KeySolicitation{
		DeviceKey:   s.deviceKey,
		FallbackKey: s.device.FallbackKey(),
		IsNewDevice: isNewDevice,
	}
	if !isNewDevice {
		sol.SessionIDs = missing
	}
	s.log.Infof("requesting keys on %s, newDevice=%v sessions=%d", streamID.Short(), isNewDevice, len(missing))
	if err := s.client.SendKeySolicitation(ctx, streamID, sol); err != nil {
		return fmt.Errorf("send key solicitation: %w", err)
	}
	metrics.SolicitationSent()
	return nil
}

// processKeySolicitation answers another device's request for keys.
//
// Steps:
//  1. Reply with every known session to a new device, otherwise with the
//     requested sessions we hold.
//  2. Require the requester to be a participant and, on channels, entitled
//     to read.
//  3. Export the sessions, post a fulfillment on the stream and deliver the
//     sessions to the requesting device in chunks.
func (s *Scheduler) processKeySolicitation(ctx context.Context, item *solicitationItem) error {
	st, ok := s.router.Stream(item.streamID)
	if !ok {
		return fmt.Errorf("stream %s not found", item.streamID.Short())
	}
	known, err := s.device.GetInboundGroupSessionIDs(item.streamID)
	if err != nil {
		return err
	}
	slices.Sort(known)
	reply := known
	if !item.IsNewDevice {
		reply = slices.DeleteFunc(slices.Clone(known), func(id domain.SessionID) bool {
			return !slices.Contains(item.SessionIDs, id)
		})
	}
	if len(reply) == 0 {
		s.log.Debugf("no keys to reply to %s with", item.DeviceKey)
		return nil
	}

	if !st.Members().IsParticipant(item.UserAddress) {
		s.log.Infof("%s is not a member of %s, not sharing keys", item.UserAddress.Hex(), item.streamID.Short())
		return nil
	}
	if cv, ok := st.View().(*stream.ChannelView); ok {
		entitled := false
		if s.entitlements != nil {
			entitled, err = s.entitlements.IsEntitled(ctx, cv.SpaceID(), item.streamID, item.UserAddress, domain.PermissionRead)
			if err != nil {
				return fmt.Errorf("entitlements: %w", err)
			}
		}
		if !entitled {
			s.log.Infof("%s is not entitled to %s, not sharing keys", item.UserAddress.Hex(), item.streamID.Short())
			return nil
		}
	}

	sessions := make([]domain.GroupSession, 0, len(reply))
	for _, id := range reply {
		gs, err := s.device.ExportInboundGroupSession(item.streamID, id)
		if err != nil {
			return fmt.Errorf("export session %s: %w", id, err)
		}
		if gs != nil {
			sessions = append(sessions, *gs)
		}
	}
	if len(sessions) == 0 {
		return nil
	}

	fulfillment := domain.KeyFulfillment{
		UserAddress: item.UserAddress,
		DeviceKey:   item.DeviceKey,
	}
	if !item.IsNewDevice {
		for _, gs := range sessions {
			fulfillment.SessionIDs = append(fulfillment.SessionIDs, gs.SessionID)
		}
	}
	if err := s.client.SendKeyFulfillment(ctx, item.streamID, fulfillment); err != nil {
		return fmt.Errorf("send key fulfillment: %w", err)
	}
	metrics.FulfillmentSent()

	for chunk := range slices.Chunk(sessions, s.cfg.SessionShareChunk) {
		if err := s.client.ShareSessions(ctx, item.streamID, item.UserAddress, item.DeviceKey, chunk); err != nil {
			return fmt.Errorf("share sessions: %w", err)
		}
	}
	s.log.Debugf("shared %d sessions on %s with %s", len(sessions), item.streamID.Short(), item.DeviceKey)
	return nil
}

func isSessionNotFound(err error) bool {
	if errors.Is(err, domain.ErrSessionNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "session not found")
}
