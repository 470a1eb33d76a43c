package api

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/maizeguard/leafscan-go/internal/api/auth"
	"github.com/maizeguard/leafscan-go/internal/conf"
	"github.com/maizeguard/leafscan-go/internal/datastore"
)

// memoryStore is an in-memory datastore.Interface used by handler tests.
type memoryStore struct {
	docs    []datastore.ScanDocument
	saveErr func(doc *datastore.ScanDocument) error
}

func (m *memoryStore) Open() error  { return nil }
func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) SaveScan(doc *datastore.ScanDocument) error {
	if m.saveErr != nil {
		if err := m.saveErr(doc); err != nil {
			return err
		}
	}
	for i := range m.docs {
		if m.docs[i].OwnerID == doc.OwnerID && m.docs[i].LocalID == doc.LocalID {
			m.docs[i] = *doc
			return nil
		}
	}
	m.docs = append(m.docs, *doc)
	return nil
}

func (m *memoryStore) GetScansByOwner(ownerID string) ([]datastore.ScanDocument, error) {
	var out []datastore.ScanDocument
	for i := range m.docs {
		if m.docs[i].OwnerID == ownerID {
			out = append(out, m.docs[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *memoryStore) GetScanByLocalID(ownerID, localID string) (*datastore.ScanDocument, error) {
	for i := range m.docs {
		if m.docs[i].OwnerID == ownerID && m.docs[i].LocalID == localID {
			return &m.docs[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryStore) CountScans(ownerID string) (int64, error) {
	var n int64
	for i := range m.docs {
		if m.docs[i].OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// testController builds a Controller over a temp public dir and an in-memory
// datastore.
func testController(t *testing.T, ds datastore.Interface) (*Controller, *auth.Service) {
	t.Helper()

	settings := &conf.Settings{}
	settings.Server.PublicDir = t.TempDir()
	settings.Server.MaxUploadMB = 5
	settings.Server.TokenTTL = time.Hour

	authService, err := auth.NewService("test-secret", time.Hour)
	require.NoError(t, err)

	c, err := New(settings, ds, authService, nil)
	require.NoError(t, err)
	return c, authService
}

// doRequest routes a request through the controller's echo instance.
func doRequest(c *Controller, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	return rec
}

func authToken(t *testing.T, service *auth.Service, ownerID string) string {
	t.Helper()
	token, err := service.IssueToken(ownerID)
	require.NoError(t, err)
	return token
}
