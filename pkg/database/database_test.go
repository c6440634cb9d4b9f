package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndFetchUser(t *testing.T) {
	db := testDB(t)

	id, err := db.CreateUser("Alice", "a@b.com", "salt:hash", "482913")
	require.NoError(t, err)
	assert.Positive(t, id)

	u, err := db.GetUserByEmail("a@b.com")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "Alice", u.Name)
	assert.Equal(t, "salt:hash", u.PasswordHash)
	assert.Empty(t, u.Tokens)
	require.NotNil(t, u.VerificationCode)
	assert.Equal(t, "482913", *u.VerificationCode)
	assert.Positive(t, u.Joined)
}

func TestGetUserByEmailMiss(t *testing.T) {
	db := testDB(t)
	_, err := db.GetUserByEmail("missing@b.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUniqueConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.CreateUser("Alice", "a@b.com", "h", "c")
	require.NoError(t, err)

	_, err = db.CreateUser("Alice", "other@b.com", "h", "c")
	assert.Error(t, err)

	_, err = db.CreateUser("Bob", "a@b.com", "h", "c")
	assert.Error(t, err)
}

func TestExistenceChecks(t *testing.T) {
	db := testDB(t)

	_, err := db.CreateUser("Alice", "a@b.com", "h", "c")
	require.NoError(t, err)

	ok, err := db.NameExists("Alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.NameExists("Bob")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.EmailExists("a@b.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.EmailExists("b@b.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateTokensRoundTrip(t *testing.T) {
	db := testDB(t)

	id, err := db.CreateUser("Alice", "a@b.com", "h", "c")
	require.NoError(t, err)

	require.NoError(t, db.UpdateTokens(id, []string{"t1", "t2"}))
	u, err := db.GetUserByEmail("a@b.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, u.Tokens)

	// nil wipes the list
	require.NoError(t, db.UpdateTokens(id, nil))
	u, err = db.GetUserByEmail("a@b.com")
	require.NoError(t, err)
	assert.Empty(t, u.Tokens)
}

func TestVerificationCodeLifecycle(t *testing.T) {
	db := testDB(t)

	id, err := db.CreateUser("Alice", "a@b.com", "h", "482913")
	require.NoError(t, err)

	require.NoError(t, db.SetVerificationCode(id, nil))
	u, err := db.GetUserByEmail("a@b.com")
	require.NoError(t, err)
	assert.Nil(t, u.VerificationCode)

	code := "111111"
	require.NoError(t, db.SetVerificationCode(id, &code))
	u, err = db.GetUserByEmail("a@b.com")
	require.NoError(t, err)
	require.NotNil(t, u.VerificationCode)
	assert.Equal(t, "111111", *u.VerificationCode)
}

func TestRoomLifecycle(t *testing.T) {
	db := testDB(t)

	_, err := db.GetRoomByName("lobby")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	id, err := db.CreateRoom("lobby")
	require.NoError(t, err)

	r, err := db.GetRoomByName("lobby")
	require.NoError(t, err)
	assert.Equal(t, id, r.ID)
	assert.Equal(t, "lobby", r.Name)
}

func TestMessageHistory(t *testing.T) {
	db := testDB(t)

	var ids []int64
	for _, text := range []string{"one", "two", "three"} {
		id, err := db.InsertMessage("lobby", "Alice", text, 1000)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := db.InsertMessage("other", "Bob", "elsewhere", 1000)
	require.NoError(t, err)

	// Full history, ascending
	msgs, err := db.ListMessagesAfter("lobby", 0, 100)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "three", msgs[2].Text)
	assert.True(t, msgs[0].Visible)

	// After a last-seen id
	msgs, err = db.ListMessagesAfter("lobby", ids[0], 100)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Text)

	// Limit applies
	msgs, err = db.ListMessagesAfter("lobby", 0, 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
