package credential

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func testCredential(t *testing.T) Credential {
	t.Helper()
	user, err := ParseProfile([]byte(`{"login":"alice","name":"Alice","plan":{"name":"pro"}}`))
	require.NoError(t, err)
	return Credential{Token: "tok_xyz", User: user}
}

func TestParseProfileKeepsDocument(t *testing.T) {
	raw := `{"login":"alice","id":42,"avatar_url":"https://avatars.example/alice","site_admin":false}`
	p, err := ParseProfile([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "alice", p.Login)
	assert.Equal(t, "https://avatars.example/alice", p.AvatarURL)
	assert.JSONEq(t, raw, string(p.Raw()))

	out, err := json.Marshal(Credential{Token: "t", User: p})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"t","user":`+raw+`}`, string(out))
}

func TestParseProfileRequiresLogin(t *testing.T) {
	_, err := ParseProfile([]byte(`{"name":"nobody"}`))
	assert.Error(t, err)

	_, err = ParseProfile([]byte(`not json`))
	assert.Error(t, err)
}

func TestProfileWithoutRawMarshalsFields(t *testing.T) {
	p := &UserProfile{Login: "bob", Email: "bob@example.com"}
	assert.JSONEq(t, `{"login":"bob","email":"bob@example.com"}`, string(p.Raw()))

	var nilProfile *UserProfile
	assert.Nil(t, nilProfile.Raw())
}

func TestCredentialValidate(t *testing.T) {
	assert.NoError(t, testCredential(t).Validate())
	assert.Error(t, Credential{User: &UserProfile{Login: "a"}}.Validate())
	assert.Error(t, Credential{Token: "t"}.Validate())
}

func TestStoreErrorMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := &StoreError{Operation: "save", Backend: "file", Cause: cause}
	assert.Equal(t, "save credential (file): disk full", err.Error())
	assert.ErrorIs(t, err, cause)

	err = &StoreError{Operation: "load", Message: "corrupt"}
	assert.Equal(t, "load credential: corrupt", err.Error())
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir)

	cred, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, cred, "empty store loads nil")

	want := testCredential(t)
	require.NoError(t, store.Save(ctx, want))

	info, err := os.Stat(filepath.Join(dir, "credentials.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok_xyz", got.Token)
	assert.Equal(t, "alice", got.User.Login)
	assert.JSONEq(t, string(want.User.Raw()), string(got.User.Raw()))

	require.NoError(t, store.Clear(ctx))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, store.Clear(ctx), "clearing twice is not an error")
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.json"), []byte("{"), 0600))

	_, err := NewFileStore(dir).Load(context.Background())
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "load", se.Operation)
	assert.Equal(t, "file", se.Backend)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	for range 3 {
		require.NoError(t, store.Save(context.Background(), testCredential(t)))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	t.Setenv("OCTOBRIDGE_NO_KEYRING", "")
	ctx := context.Background()

	store := NewKeyringStore(t.TempDir(), nil)
	require.True(t, store.UsingKeyring())

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(ctx, testCredential(t)))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok_xyz", got.Token)

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKeyringStoreFallsBackWhenUnavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("no dbus"))
	t.Setenv("OCTOBRIDGE_NO_KEYRING", "")
	ctx := context.Background()
	dir := t.TempDir()

	store := NewKeyringStore(dir, nil)
	assert.False(t, store.UsingKeyring())

	require.NoError(t, store.Save(ctx, testCredential(t)))
	_, err := os.Stat(filepath.Join(dir, "credentials.json"))
	assert.NoError(t, err)
}

func TestKeyringStoreDisabledByEnv(t *testing.T) {
	keyring.MockInit()
	t.Setenv("OCTOBRIDGE_NO_KEYRING", "1")

	assert.False(t, NewKeyringStore(t.TempDir(), nil).UsingKeyring())
}

func TestMigrateToKeyring(t *testing.T) {
	keyring.MockInit()
	t.Setenv("OCTOBRIDGE_NO_KEYRING", "")
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, NewFileStore(dir).Save(ctx, testCredential(t)))

	store := NewKeyringStore(dir, nil)
	require.NoError(t, store.MigrateToKeyring(ctx))

	_, err := os.Stat(filepath.Join(dir, "credentials.json"))
	assert.True(t, os.IsNotExist(err), "plaintext file removed after migration")

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.User.Login)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, testCredential(t)))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	got.Token = "mutated"

	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok_xyz", again.Token)
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	g, closeFn, err := Open(ctx, Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, g.Backend())
	assert.NoError(t, closeFn())

	g, _, err = Open(ctx, Options{Backend: BackendFile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, BackendFile, g.Backend())

	_, _, err = Open(ctx, Options{Backend: BackendRedis})
	assert.ErrorContains(t, err, "requires redis_url")

	_, _, err = Open(ctx, Options{Backend: "floppy"})
	assert.ErrorContains(t, err, "unknown store backend")
}
