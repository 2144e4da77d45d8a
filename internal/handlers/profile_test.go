package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/authsvc/apiserver/internal/storage"
	"github.com/authsvc/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}}
}

func (m *memoryObjects) EnsureBucket(context.Context) error { return nil }

func (m *memoryObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryObjects) Bucket() string { return "test" }

func (m *memoryObjects) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func testPNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (e *testEnv) uploadPhoto(t *testing.T, token, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile(formFieldPhoto, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "remove"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPatch, "/auth/profile-photo", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestGetProfile(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	pair := env.login(t)

	rec := env.do(t, http.MethodGet, "/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/profile", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, testEmail, raw["email"])
	assert.Equal(t, true, raw["is_active"])
	assert.NotContains(t, raw, "password_hash")
	assert.NotContains(t, raw, "otp_code")
	assert.NotContains(t, raw, "attempts_count")
}

func TestPatchProfile(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	pair := env.login(t)

	rec := env.do(t, http.MethodPatch, "/profile", pair.AccessToken,
		`{"first_name":"Alicia","features":[{"title":"Skills","values":["go","sql"]}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var user types.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "Alicia", user.FirstName)
	assert.Equal(t, "Smith", user.LastName)
	require.Len(t, user.Features, 1)
	assert.Equal(t, []string{"go", "sql"}, user.Features[0].Values)

	rec = env.do(t, http.MethodPatch, "/profile", pair.AccessToken, `{"email":"b@x.com"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPatch, "/profile", pair.AccessToken, `{"last_name":"Al"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "last_name", decodeError(t, rec).Field)
}

func TestProfilePhoto(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	pair := env.login(t)

	rec := env.do(t, http.MethodGet, "/profile-photo", pair.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.uploadPhoto(t, pair.AccessToken, "me.png", testPNG(t, 64))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp PhotoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, msgPhotoUpdated, resp.Message)
	require.NotNil(t, resp.Photo)
	assert.Equal(t, 1, env.objects.len())

	rec = env.do(t, http.MethodGet, "/profile-photo", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	rec = env.uploadPhoto(t, pair.AccessToken, "me.png", testPNG(t, 16))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.objects.len())

	rec = env.uploadPhoto(t, pair.AccessToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, msgPhotoRemoved, resp.Message)
	assert.Nil(t, resp.Photo)
	assert.Equal(t, 0, env.objects.len())
}

func TestProfilePhoto_Rejected(t *testing.T) {
	env := newTestEnv(t, envOptions{maxUploadBytes: 4 << 10})
	pair := env.login(t)

	rec := env.uploadPhoto(t, pair.AccessToken, "me.txt", []byte("hello"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, msgUnsupportedPhoto, decodeError(t, rec).Error)

	rec = env.uploadPhoto(t, pair.AccessToken, "me.png", []byte("not a png"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.uploadPhoto(t, pair.AccessToken, "big.png", bytes.Repeat([]byte{0x42}, 8<<10))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, env.objects.len())
}
