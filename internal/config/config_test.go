package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"taskroom/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("web")
	require.NoError(t, cfg.Validate())
	require.Equal(t, "web", cfg.Project.ID)
	require.Equal(t, domain.StatusOpen, cfg.Tasks.DefaultStatus)
	require.Equal(t, domain.PriorityMedium, cfg.Tasks.DefaultPriority)
	require.True(t, cfg.Tasks.ReopenAllowed())
	require.True(t, cfg.Chat.MarkReadOnViewEnabled())
}

func TestFromYAMLFillsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("project:\n  id: api\nchat:\n  mark_read_on_view: false\n"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, cfg.Tasks.DefaultStatus)
	require.Equal(t, domain.PriorityMedium, cfg.Tasks.DefaultPriority)
	require.False(t, cfg.Chat.MarkReadOnViewEnabled())
	require.True(t, cfg.Tasks.ReopenAllowed())
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"missing project": "tasks:\n  default_status: OPEN\n",
		"unknown status":  "project:\n  id: x\ntasks:\n  default_status: LATER\n",
		"closed default":  "project:\n  id: x\ntasks:\n  default_status: DONE\n",
		"bad priority":    "project:\n  id: x\ntasks:\n  default_priority: SOON\n",
		"not yaml":        "project: [",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(src))
			require.Error(t, err)
		})
	}
}

func TestApplyKeepsExplicitValues(t *testing.T) {
	settings := TaskSettings{DefaultStatus: domain.StatusBlocked, DefaultPriority: domain.PriorityLow}
	var status domain.TaskStatus
	priority := domain.PriorityUrgent
	settings.Apply(&status, &priority)
	require.Equal(t, domain.StatusBlocked, status)
	require.Equal(t, domain.PriorityUrgent, priority)
}

func TestLoadOptionalAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	require.Nil(t, cfg)
	_, err = Load(dir)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "taskroom.yml"), []byte(GenerateDefault("web")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	out, err := cfg.YAML()
	require.NoError(t, err)
	again, err := FromYAML([]byte(out))
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}
