package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"strand/internal/domain"
	"strand/internal/protocol/events/eventstest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := execute(root)
	return out.String(), err
}

func TestStreamIDMintAndCheck(t *testing.T) {
	out, err := run(t, "streamid", "mint", "channel")
	require.NoError(t, err)
	id := domain.StreamID(strings.TrimSpace(out))
	require.Equal(t, domain.KindChannel, id.Kind())

	alice := eventstest.NewSigner(t)
	out, err = run(t, "streamid", "mint", "inbox", "--user", alice.Address.Hex())
	require.NoError(t, err)
	want, err := domain.UserStreamID(domain.KindInbox, alice.Address)
	require.NoError(t, err)
	require.Equal(t, string(want), strings.TrimSpace(out))

	_, err = run(t, "streamid", "mint", "inbox")
	require.Error(t, err)
	_, err = run(t, "streamid", "mint", "nonsense")
	require.Error(t, err)

	out, err = run(t, "streamid", "check", string(id), "zz")
	require.Error(t, err)
	require.Contains(t, out, string(id)+"\tchannel")
	require.Contains(t, out, "zz\tinvalid")
}

func TestVerify(t *testing.T) {
	alice := eventstest.NewSigner(t)
	c := eventstest.NewChain(t, domain.KindUser, alice, domain.Inception{})
	good := c.Pending()[0].Envelope
	bad := alice.Envelope(t, domain.Payload{InboxAck: &domain.InboxAck{DeviceKey: "k"}}, c.Last())
	bad.Signature = append([]byte(nil), bad.Signature...)
	bad.Signature[3] ^= 0x01

	dir := t.TempDir()
	write := func(name string, v any) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		f := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(f, b, 0o600))
		return f
	}
	one := write("one.json", good)
	many := write("many.json", []domain.Envelope{good, bad})

	out, err := run(t, "verify", one)
	require.NoError(t, err)
	require.Contains(t, out, "OK\t"+good.Hash.Hex())
	require.Contains(t, out, "inception")

	out, err = run(t, "verify", many)
	require.Error(t, err)
	require.Contains(t, out, "many.json[1]\tREJECTED")
}

func TestInitAndWhoami(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "strand.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[Logging]\nDisable = true\n"), 0o600))
	base := []string{"--config", cfg, "--home", dir, "-p", "Correct-Horse-9"}

	out, err := run(t, append([]string{"init", "--device-id", "phone"}, base...)...)
	require.NoError(t, err)
	require.Contains(t, out, "Device: phone")

	_, err = run(t, append([]string{"init"}, base...)...)
	require.Error(t, err)

	out, err = run(t, append([]string{"whoami"}, base...)...)
	require.NoError(t, err)
	require.Contains(t, out, "Device:      phone")
	require.Contains(t, out, "User:        0x")

	_, err = run(t, "whoami", "--config", cfg, "--home", dir)
	require.ErrorIs(t, err, errNoPassphrase)
}
