package devicekeys

import (
	"context"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"strand/internal/domain"
	"strand/internal/protocol/events"
	"strand/internal/stream"
)

// Service is a domain.DeviceKeyDirectory over a node.
type Service struct {
	log       *logging.Logger
	transport domain.Transport
	signer    domain.SignerIdentity
	device    domain.CryptoDevice
}

var _ domain.DeviceKeyDirectory = (*Service)(nil)

func New(
	transport domain.Transport,
	signer domain.SignerIdentity,
	device domain.CryptoDevice,
	log *logging.Logger,
) *Service {
	if log == nil {
		log = logging.MustGetLogger("devicekeys")
	}
	return &Service{log: log, transport: transport, signer: signer, device: device}
}

// Upload publishes the device key unless it is already on the stream.
func (s *Service) Upload(ctx context.Context) error {
	st, err := s.load(ctx, s.signer.CreatorAddress)
	if err != nil {
		return err
	}
	defer st.Close()

	key := s.device.DeviceKey()
	if st.View().(*stream.DeviceKeysView).Has(key) {
		s.log.Debugf("device key %s already published", key)
		return nil
	}
	env, err := events.BuildEvent(s.signer, domain.Payload{DeviceKey: &domain.DeviceKeyUpload{
		DeviceKey:   key,
		FallbackKey: s.device.FallbackKey(),
		DeviceID:    s.signer.DeviceID,
	}}, events.HashesToBytes(st.LeafEventHashes()))
	if err != nil {
		return err
	}
	if err := s.transport.AddEvent(ctx, st.StreamID(), env); err != nil {
		return fmt.Errorf("upload device key: %w", err)
	}
	s.log.Infof("published device key %s", key)
	return nil
}

// DeviceKeys returns the keys user has published, oldest first.
func (s *Service) DeviceKeys(ctx context.Context, user domain.Address) ([]domain.DeviceKeyUpload, error) {
	st, err := s.load(ctx, user)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.View().(*stream.DeviceKeysView).DeviceKeys(), nil
}

func (s *Service) load(ctx context.Context, user domain.Address) (*stream.State, error) {
	id, err := domain.UserStreamID(domain.KindDeviceKeys, user)
	if err != nil {
		return nil, err
	}
	sc, err := s.transport.GetStream(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get device keys of %s: %w", user.Hex(), err)
	}
	return stream.Load(id, sc, s.log)
}
