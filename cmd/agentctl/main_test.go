package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"golang.org/x/crypto/ssh"

	"github.com/danmuck/agentlink/internal/keyblob"
	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/message"
	"github.com/danmuck/agentlink/internal/testutil/certtest"
	"github.com/danmuck/agentlink/internal/testutil/fakeagent"
	"github.com/danmuck/agentlink/internal/testutil/testlog"
)

func startAgent(t *testing.T, agent *fakeagent.Agent) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go agent.Serve(ln)
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writePublicKey(t *testing.T) (string, message.KeyRef) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("wrap key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519.pub")
	if err := os.WriteFile(path, ssh.MarshalAuthorizedKey(key), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path, keyblob.FromPublicKey(key)
}

func TestPing(t *testing.T) {
	testlog.Start(t)
	sock := startAgent(t, &fakeagent.Agent{Name: "fake"})
	out, err := run(t, "--socket", sock, "ping")
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !strings.Contains(out, "agent fake answered") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestListKeys(t *testing.T) {
	testlog.Start(t)
	_, ref := writePublicKey(t)
	sock := startAgent(t, &fakeagent.Agent{
		Name: "fake",
		Keys: []message.KeyCert{{Encoding: ref.Encoding, Blob: ref.Blob, Description: "laptop"}},
	})
	out, err := run(t, "--socket", sock, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, keyblob.Fingerprint(ref.Blob)) || !strings.Contains(out, "laptop") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRandomHex(t *testing.T) {
	testlog.Start(t)
	sock := startAgent(t, &fakeagent.Agent{Name: "fake"})
	out, err := run(t, "--socket", sock, "random", "4", "--hex")
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if strings.TrimSpace(out) != "00010203" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSignFragmentsLargeInput(t *testing.T) {
	testlog.Start(t)
	keyPath, _ := writePublicKey(t)
	agent := &fakeagent.Agent{Name: "fake"}
	sock := startAgent(t, agent)

	cfgPath := filepath.Join(t.TempDir(), "agentlink.toml")
	if err := os.WriteFile(cfgPath, []byte("fragment_bound = 16\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	data := strings.Repeat("x", 40)
	out, err := run(t, "--config", cfgPath, "--socket", sock, "sign", "--key", keyPath, "--hex", data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if strings.TrimSpace(out) != hex.EncodeToString([]byte("sign:"+data)) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestUnsupportedRequestReportsAgentError(t *testing.T) {
	testlog.Start(t)
	sock := startAgent(t, &fakeagent.Agent{Name: "fake"})
	_, err := run(t, "--socket", sock, "list", "certs")
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestMissingSocket(t *testing.T) {
	testlog.Start(t)
	t.Setenv("AGENTLINK_AUTH_SOCK", "")
	if _, err := run(t, "ping"); err == nil {
		t.Fatalf("expected missing socket error")
	}
	missing := filepath.Join(t.TempDir(), "none.sock")
	if _, err := run(t, "--socket", missing, "ping"); err == nil || !strings.Contains(err.Error(), errConnect.Error()) {
		t.Fatalf("expected connect failure, got %v", err)
	}
}

func TestConfigInit(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "agentlink.toml")
	if _, err := run(t, "config-init", path); err != nil {
		t.Fatalf("config-init: %v", err)
	}
	if _, err := run(t, "config-init", path); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if _, err := run(t, "config-init", "--force", path); err != nil {
		t.Fatalf("forced config-init: %v", err)
	}
}

func TestMetricsFlag(t *testing.T) {
	testlog.Start(t)
	sock := startAgent(t, &fakeagent.Agent{Name: "fake"})
	out, err := run(t, "--socket", sock, "--metrics", "delete-all")
	if err != nil {
		t.Fatalf("delete-all: %v", err)
	}
	if !strings.Contains(out, "all keys deleted") || !strings.Contains(out, "agentlink_operations_finished_total") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSignWithCertificate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	leaf := certtest.NewAuthority(t, "ca").Issue(t, dir, "signer")
	agent := &fakeagent.Agent{Name: "fake"}
	sock := startAgent(t, agent)

	out, err := run(t, "--socket", sock, "sign", "--cert", leaf.Path, "--op", "decrypt", "--hex", "abc")
	if err != nil {
		t.Fatalf("sign --cert: %v", err)
	}
	if strings.TrimSpace(out) != hex.EncodeToString([]byte("decrypt:abc")) {
		t.Fatalf("unexpected output %q", out)
	}
	seen := agent.Seen()
	if seen[len(seen)-1] != protocol.MsgKeyOperationWithCertificate {
		t.Fatalf("expected certificate key operation, saw %v", seen)
	}
	if _, err := run(t, "--socket", sock, "sign", "abc"); err == nil {
		t.Fatalf("expected selector error")
	}
}
