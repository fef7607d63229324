package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itss-group/projectpulse/internal/domain"
)

type fakeStore struct {
	users   map[int64]*domain.User
	saved   []*domain.Notification
	saveErr error
}

func (f *fakeStore) UserByID(_ context.Context, id int64) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

func (f *fakeStore) SaveNotification(_ context.Context, n *domain.Notification) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, n)
	return nil
}

type fakeMailer struct {
	sent []*Message
}

func (f *fakeMailer) SendMessages(messages ...*Message) {
	f.sent = append(f.sent, messages...)
}

func TestNotifyPersistsAndMails(t *testing.T) {
	store := &fakeStore{users: map[int64]*domain.User{
		7: {ID: 7, FullName: "Ana Silva", Email: "ana@example.edu"},
	}}
	mailer := &fakeMailer{}
	svc := NewService(store, mailer, nil)

	err := svc.Notify(context.Background(), 7, "Warning: workload pressure overload", "too many tasks")
	require.NoError(t, err)

	require.Len(t, store.saved, 1)
	assert.Equal(t, int64(7), store.saved[0].UserID)
	assert.Equal(t, "Warning: workload pressure overload", store.saved[0].Title)
	assert.False(t, store.saved[0].Read)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "ana@example.edu", mailer.sent[0].ToEmail)
	assert.Equal(t, "Warning: workload pressure overload", mailer.sent[0].Subject)
}

func TestNotifySkipsMailWithoutAddress(t *testing.T) {
	store := &fakeStore{users: map[int64]*domain.User{
		7: {ID: 7, FullName: "Ana Silva"},
	}}
	mailer := &fakeMailer{}
	svc := NewService(store, mailer, nil)

	require.NoError(t, svc.Notify(context.Background(), 7, "title", "body"))
	assert.Len(t, store.saved, 1)
	assert.Empty(t, mailer.sent)
}

func TestNotifyNilMailer(t *testing.T) {
	store := &fakeStore{users: map[int64]*domain.User{
		7: {ID: 7, Email: "ana@example.edu"},
	}}
	svc := NewService(store, nil, nil)

	require.NoError(t, svc.Notify(context.Background(), 7, "title", "body"))
	assert.Len(t, store.saved, 1)
}

func TestNotifyUnknownRecipient(t *testing.T) {
	svc := NewService(&fakeStore{users: map[int64]*domain.User{}}, nil, nil)

	err := svc.Notify(context.Background(), 99, "title", "body")
	assert.Error(t, err)
}

func TestNotifyPersistFailureSurfaces(t *testing.T) {
	store := &fakeStore{
		users:   map[int64]*domain.User{7: {ID: 7}},
		saveErr: errors.New("disk full"),
	}
	svc := NewService(store, nil, nil)

	err := svc.Notify(context.Background(), 7, "title", "body")
	assert.ErrorContains(t, err, "persisting notification")
}
