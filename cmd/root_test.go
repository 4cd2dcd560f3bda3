package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"serve", "sync", "status", "import"} {
		assert.True(t, names[want], "command %q not registered", want)
	}
}

func TestImportFlags(t *testing.T) {
	assert.NotNil(t, importCmd.Flags().Lookup("sqlite"))
	batch := importCmd.Flags().Lookup("batch")
	if assert.NotNil(t, batch) {
		assert.Equal(t, "500", batch.DefValue)
	}
}
