package export

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
	testutil "github.com/mbround18/hytale-vex-lich-dungeon/internal/testing"
)

func TestFilenames(t *testing.T) {
	now := testutil.FixedTime
	assert.Equal(t, "vex_telemetry_2026-01-01T12-00-00-000Z.json", TelemetryFilename(now))
	assert.Equal(t, "vex_instance_instance-vex_the_lich_dungeon-1_2026-01-01T12-00-00-000Z.json",
		InstanceFilename(testutil.TestInstance, now))
	assert.Equal(t, "vex_instance_a_b_c_2026-01-01T12-00-00-000Z.json", InstanceFilename("a b/.c", now))
	assert.Equal(t, "x.json.age", Filename("x.json", true))
	assert.Equal(t, "x.json", Filename("x.json", false))
}

func TestWritePlainJSON(t *testing.T) {
	events := []models.CanonicalEvent{testutil.InstanceInitialized(testutil.TestInstance, testutil.FixedTime)}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, events, nil))

	assert.Contains(t, buf.String(), "\n  {\n")
	var decoded []models.CanonicalEvent
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	testutil.AssertJSONEqual(t, events, decoded)
}

func TestWriteEncryptedAndReadBack(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	recipients, err := ParseRecipients([]string{"", "# ops key", identity.Recipient().String()})
	require.NoError(t, err)
	require.Len(t, recipients, 1)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, map[string]string{"hello": "vex"}, recipients))
	assert.NotContains(t, buf.String(), "hello")

	dir := t.TempDir()
	exportPath := filepath.Join(dir, Filename("vex_telemetry.json", true))
	require.NoError(t, os.WriteFile(exportPath, buf.Bytes(), 0o600))
	keyPath := filepath.Join(dir, "age.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("# created: test\n"+identity.String()+"\n"), 0o600))

	data, err := ReadFile(exportPath, keyPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"vex"}`, string(data))

	_, err = ReadFile(exportPath, "")
	assert.EqualError(t, err, "age key path is required for .age exports")
}

func TestReadFilePlain(t *testing.T) {
	path := testutil.TempFile(t, `[{"internalId":"A"}]`)
	data, err := ReadFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, `[{"internalId":"A"}]`, string(data))

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"), "")
	assert.Error(t, err)
}

func TestParseRecipientsRejectsGarbage(t *testing.T) {
	_, err := ParseRecipients([]string{"age1notreal"})
	assert.Error(t, err)
}

func TestParseIdentitiesRequiresKey(t *testing.T) {
	_, err := ParseIdentities([]byte("# nothing here\n"))
	assert.EqualError(t, err, "no age identities found")
}

func TestWriteReportsWriterErrors(t *testing.T) {
	err := Write(failingWriter{}, map[string]int{"a": 1}, nil)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
