package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordsConfig_Validate(t *testing.T) {
	conf := DefaultRecordsConfig()
	assert.NoError(t, conf.Validate())

	conf = DefaultRecordsConfig()
	conf.Servers = nil
	assert.Error(t, conf.Validate())

	conf = DefaultRecordsConfig()
	conf.Rate = 0
	assert.Error(t, conf.Validate())

	conf = DefaultRecordsConfig()
	conf.Keys = 0
	assert.Error(t, conf.Validate())
}
