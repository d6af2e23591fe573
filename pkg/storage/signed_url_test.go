package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("job-1", "exports/timetable.csv")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	jobID, path, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "job-1", jobID)
	require.Equal(t, "exports/timetable.csv", path)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Millisecond*10)
	token, _, err := signer.Generate("job-1", "exports/timetable.csv")
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 20)

	_, _, _, err = signer.Parse(token, false)
	require.Error(t, err)

	jobID, path, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "job-1", jobID)
	require.Equal(t, "exports/timetable.csv", path)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("job-1", "exports/timetable.csv")
	require.NoError(t, err)

	flipped := "A"
	if strings.HasPrefix(token, "A") {
		flipped = "B"
	}
	_, _, _, err = signer.Parse(flipped+token[1:], false)
	require.Error(t, err)
}

func TestSignedURLSignerRejectsForeignSecret(t *testing.T) {
	minting := NewSignedURLSigner("secret-a", time.Hour)
	verifying := NewSignedURLSigner("secret-b", time.Hour)

	token, _, err := minting.Generate("job-1", "exports/timetable.csv")
	require.NoError(t, err)

	_, _, _, err = verifying.Parse(token, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "signature")
}

func TestSignedURLSignerMalformedToken(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)

	for _, token := range []string{"", "no-separator", "a.b.c", "!!!.???"} {
		_, _, _, err := signer.Parse(token, false)
		require.Error(t, err, "token %q", token)
	}
}
