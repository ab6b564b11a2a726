package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	require.NotNil(t, cfg)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 2, cfg.Extracurricular.MaxSelections)
	assert.Equal(t, 5*time.Minute, cfg.Extracurricular.CacheTTL)
	assert.True(t, cfg.Assignments.FinalizeAfterDue)
	assert.Equal(t, int64(10*1024*1024), cfg.Assignments.MaxFileSizeBytes)
	assert.Contains(t, cfg.Assignments.AllowedMIMEs, "application/pdf")
	assert.Equal(t, "sma-portal:events", cfg.Events.Channel)
	assert.Equal(t, "Asia/Jakarta", cfg.Attendance.Timezone)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("EXTRACURRICULAR_MAX_SELECTIONS", 0)
	v.Set("ASSIGNMENT_FINALIZE_AFTER_DUE", false)
	v.Set("ASSIGNMENT_SIGNED_URL_TTL", "not-a-duration")
	v.Set("JWT_AUDIENCE", "portal, mobile ,")

	cfg := fromViper(v)
	assert.Equal(t, 2, cfg.Extracurricular.MaxSelections)
	assert.False(t, cfg.Assignments.FinalizeAfterDue)
	assert.Equal(t, 30*time.Minute, cfg.Assignments.SignedURLTTL)
	assert.Equal(t, []string{"portal", "mobile"}, cfg.JWT.Audience)
}
