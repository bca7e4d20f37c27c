package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/matt-riley/comboz/internal/core"
	"github.com/matt-riley/comboz/internal/fixtures"
	"github.com/matt-riley/comboz/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalogue = filepath.Join("..", "..", "internal", "fixtures", "testdata", "catalogue.yaml")

type fakeSeedStore struct {
	packages    int
	rules       int
	liveRules   map[string]bool
	deactivated []string
	keyName     string
	keyErr      error
	createdID   string
}

func (f *fakeSeedStore) UpsertPackage(_ context.Context, pkg core.Package) (core.Package, error) {
	f.packages++
	return pkg, nil
}

func (f *fakeSeedStore) UpsertRule(_ context.Context, rule repository.Rule) (repository.Rule, error) {
	f.rules++
	return rule, nil
}

func (f *fakeSeedStore) GetRule(_ context.Context, id string) (repository.Rule, error) {
	active, ok := f.liveRules[id]
	if !ok {
		return repository.Rule{}, pgx.ErrNoRows
	}
	return repository.Rule{ID: id, Active: active}, nil
}

func (f *fakeSeedStore) DeactivateRule(_ context.Context, id string) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}

func (f *fakeSeedStore) CreateAPIKey(_ context.Context, name string) (string, string, error) {
	f.keyName = name
	if f.keyErr != nil {
		return "", "", f.keyErr
	}
	f.createdID = "k1"
	return "k1", "s3cret", nil
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-file", "x.yaml", "-api-key-name", "storefront"})
	require.NoError(t, err)
	assert.Equal(t, options{file: "x.yaml", apiKeyName: "storefront"}, opts)

	opts, err = parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "catalogue.yaml", opts.file)

	_, err = parseFlags([]string{"extra"})
	require.Error(t, err)

	_, err = parseFlags([]string{"-unknown"})
	require.Error(t, err)
}

func TestRunDryRunValidatesWithoutDatabase(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-dry-run", "-file", testCatalogue}, &out)
	require.NoError(t, err)
	assert.Equal(t, "catalogue ok: 5 packages, 3 rules\n", out.String())
}

func TestRunReportsCatalogueErrors(t *testing.T) {
	err := run([]string{"-dry-run", "-file", filepath.Join(t.TempDir(), "missing.yaml")}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read catalogue")
}

func TestSeed(t *testing.T) {
	cat, err := fixtures.Load(testCatalogue)
	require.NoError(t, err)

	t.Run("without api key", func(t *testing.T) {
		store := &fakeSeedStore{}
		var out bytes.Buffer
		require.NoError(t, seed(context.Background(), store, cat, "", &out))

		assert.Equal(t, 5, store.packages)
		assert.Equal(t, 3, store.rules)
		assert.Empty(t, store.keyName)
		assert.Equal(t, "seeded 5 packages and 3 rules\n", out.String())
	})

	t.Run("retires live rules", func(t *testing.T) {
		store := &fakeSeedStore{liveRules: map[string]bool{"rule-summer-2025": true}}
		var out bytes.Buffer
		require.NoError(t, seed(context.Background(), store, cat, "", &out))

		assert.Equal(t, []string{"rule-summer-2025"}, store.deactivated)
		assert.Equal(t, "seeded 5 packages and 3 rules\nretired 1 rules\n", out.String())
	})

	t.Run("with api key", func(t *testing.T) {
		store := &fakeSeedStore{}
		var out bytes.Buffer
		require.NoError(t, seed(context.Background(), store, cat, "storefront", &out))

		assert.Equal(t, "storefront", store.keyName)
		assert.Contains(t, out.String(), "api key: k1.s3cret\n")
	})

	t.Run("api key failure", func(t *testing.T) {
		boom := errors.New("insert failed")
		err := seed(context.Background(), &fakeSeedStore{keyErr: boom}, cat, "storefront", &bytes.Buffer{})
		require.ErrorIs(t, err, boom)
	})
}
