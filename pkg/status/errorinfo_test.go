package status

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorInfo(t *testing.T) {
	err := NewErrorInfo(http.StatusBadRequest, "invalid record")
	assert.Equal(t, "bad request (400): invalid record", err.Error())

	b, err2 := json.Marshal(err)
	require.NoError(t, err2)
	assert.Equal(t, `{"error":"invalid record"}`, string(b))
}
