// ABOUTME: Provider, model config, tool and grant store methods
// ABOUTME: Resolved queries join model configs with providers and batch-load credentials and settings

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateProvider inserts a new provider definition
func (s *SQLiteStore) CreateProvider(ctx context.Context, provider *Provider) error {
	if provider.CreatedAt.IsZero() {
		provider.CreatedAt = time.Now().UTC()
	}

	configJSON, err := json.Marshal(provider.Configuration)
	if err != nil {
		return fmt.Errorf("marshaling provider configuration: %w", err)
	}
	if provider.Configuration == nil {
		configJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO providers (id, name, family, base_url, configuration, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, provider.ID, provider.Name, provider.Family, nullString(provider.BaseURL), string(configJSON), formatTime(provider.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting provider: %w", err)
	}

	s.logger.Debug("created provider", "id", provider.ID, "family", provider.Family)
	return nil
}

// GetProvider retrieves a provider by ID
func (s *SQLiteStore) GetProvider(ctx context.Context, id string) (*Provider, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, family, base_url, configuration, created_at
		FROM providers WHERE id = ?
	`, id)
	return scanProvider(row)
}

// ListProviders returns all providers ordered by name
func (s *SQLiteStore) ListProviders(ctx context.Context) ([]*Provider, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, family, base_url, configuration, created_at
		FROM providers ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating provider rows: %w", err)
	}
	return providers, nil
}

func scanProvider(row rowScanner) (*Provider, error) {
	var p Provider
	var baseURL sql.NullString
	var configStr, createdAtStr string

	err := row.Scan(&p.ID, &p.Name, &p.Family, &baseURL, &configStr, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying provider: %w", err)
	}

	p.BaseURL = baseURL.String
	if err := json.Unmarshal([]byte(configStr), &p.Configuration); err != nil {
		return nil, fmt.Errorf("parsing provider configuration: %w", err)
	}
	p.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}

// DeleteProvider removes a provider and, by cascade, its model configs
func (s *SQLiteStore) DeleteProvider(ctx context.Context, id string) error {
	err := s.execOne(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting provider: %w", err)
	}
	return err
}

// CreateModelConfig inserts a model config.
// Returns ErrNotFound if the provider does not exist.
func (s *SQLiteStore) CreateModelConfig(ctx context.Context, model *ModelConfig) error {
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_configs (id, provider_id, model, name, description, supports_tools, supports_images, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		model.ID,
		model.ProviderID,
		model.Model,
		model.Name,
		model.Description,
		boolToInt(model.SupportsTools),
		boolToInt(model.SupportsImages),
		formatTime(model.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting model config: %w", err)
	}

	s.logger.Debug("created model config", "id", model.ID, "provider_id", model.ProviderID, "model", model.Model)
	return nil
}

// GetModelConfig retrieves a model config by ID
func (s *SQLiteStore) GetModelConfig(ctx context.Context, id string) (*ModelConfig, error) {
	var m ModelConfig
	var supportsTools, supportsImages int
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider_id, model, name, description, supports_tools, supports_images, created_at
		FROM model_configs WHERE id = ?
	`, id).Scan(&m.ID, &m.ProviderID, &m.Model, &m.Name, &m.Description, &supportsTools, &supportsImages, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying model config: %w", err)
	}

	m.SupportsTools = supportsTools != 0
	m.SupportsImages = supportsImages != 0
	m.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

// DeleteModelConfig removes a model config with its credentials, settings and grants
func (s *SQLiteStore) DeleteModelConfig(ctx context.Context, id string) error {
	err := s.execOne(ctx, `DELETE FROM model_configs WHERE id = ?`, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting model config: %w", err)
	}
	return err
}

// SetCredential upserts a credential on a model config.
// Keys outside ValidCredentialKeys are rejected with ErrInvalidCredentialKey.
func (s *SQLiteStore) SetCredential(ctx context.Context, modelConfigID string, key CredentialKey, value string) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCredentialKey, key)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_config_credentials (model_config_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT (model_config_id, key) DO UPDATE SET value = excluded.value
	`, modelConfigID, string(key), value)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("upserting credential: %w", err)
	}

	// Never log the value
	s.logger.Debug("set credential", "model_config_id", modelConfigID, "key", key)
	return nil
}

// SetSetting upserts a JSON-valued setting on a model config
func (s *SQLiteStore) SetSetting(ctx context.Context, modelConfigID, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("setting %q: value is not valid JSON", key)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_config_settings (model_config_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT (model_config_id, key) DO UPDATE SET value = excluded.value
	`, modelConfigID, key, string(value))
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("upserting setting: %w", err)
	}

	s.logger.Debug("set setting", "model_config_id", modelConfigID, "key", key)
	return nil
}

// CreateTool inserts a tool catalog entry
func (s *SQLiteStore) CreateTool(ctx context.Context, tool *Tool) error {
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = time.Now().UTC()
	}
	if len(tool.Configuration) == 0 {
		tool.Configuration = json.RawMessage("{}")
	}
	if !json.Valid(tool.Configuration) {
		return fmt.Errorf("tool %q: configuration is not valid JSON", tool.Name)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tools (id, name, description, configuration, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, tool.ID, tool.Name, tool.Description, string(tool.Configuration), formatTime(tool.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting tool: %w", err)
	}

	s.logger.Debug("created tool", "id", tool.ID, "name", tool.Name)
	return nil
}

// GetTool retrieves a tool by ID
func (s *SQLiteStore) GetTool(ctx context.Context, id string) (*Tool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, configuration, created_at FROM tools WHERE id = ?
	`, id)
	return scanTool(row)
}

// ListTools returns every tool in the catalog ordered by name
func (s *SQLiteStore) ListTools(ctx context.Context) ([]*Tool, error) {
	return s.queryTools(ctx, `
		SELECT id, name, description, configuration, created_at FROM tools ORDER BY name ASC
	`)
}

// ListToolsForGroups returns the distinct tools granted to any of the groups
func (s *SQLiteStore) ListToolsForGroups(ctx context.Context, groupIDs []string) ([]*Tool, error) {
	if len(groupIDs) == 0 {
		return []*Tool{}, nil
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT t.id, t.name, t.description, t.configuration, t.created_at
		FROM tools t
		JOIN group_tool_access a ON a.tool_id = t.id
		WHERE a.group_id IN (%s)
		ORDER BY t.name ASC
	`, placeholders(len(groupIDs)))
	return s.queryTools(ctx, query, stringArgs(groupIDs)...)
}

func (s *SQLiteStore) queryTools(ctx context.Context, query string, args ...any) ([]*Tool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tools: %w", err)
	}
	defer rows.Close()

	tools := []*Tool{}
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool rows: %w", err)
	}
	return tools, nil
}

func scanTool(row rowScanner) (*Tool, error) {
	var t Tool
	var configStr, createdAtStr string

	err := row.Scan(&t.ID, &t.Name, &t.Description, &configStr, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tool: %w", err)
	}

	t.Configuration = json.RawMessage(configStr)
	t.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &t, nil
}

// DeleteTool removes a tool and its grant edges
func (s *SQLiteStore) DeleteTool(ctx context.Context, id string) error {
	err := s.execOne(ctx, `DELETE FROM tools WHERE id = ?`, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting tool: %w", err)
	}
	return err
}

// GrantModel gives a group access to a model config. Granting twice is a no-op.
func (s *SQLiteStore) GrantModel(ctx context.Context, groupID, modelConfigID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_model_access (group_id, model_config_id) VALUES (?, ?)
	`, groupID, modelConfigID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("granting model: %w", err)
	}
	return nil
}

// RevokeModel removes a group's access to a model config
func (s *SQLiteStore) RevokeModel(ctx context.Context, groupID, modelConfigID string) error {
	err := s.execOne(ctx, `
		DELETE FROM group_model_access WHERE group_id = ? AND model_config_id = ?
	`, groupID, modelConfigID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoking model: %w", err)
	}
	return err
}

// GrantTool gives a group access to a tool. Granting twice is a no-op.
func (s *SQLiteStore) GrantTool(ctx context.Context, groupID, toolID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_tool_access (group_id, tool_id) VALUES (?, ?)
	`, groupID, toolID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("granting tool: %w", err)
	}
	return nil
}

// RevokeTool removes a group's access to a tool
func (s *SQLiteStore) RevokeTool(ctx context.Context, groupID, toolID string) error {
	err := s.execOne(ctx, `
		DELETE FROM group_tool_access WHERE group_id = ? AND tool_id = ?
	`, groupID, toolID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoking tool: %w", err)
	}
	return err
}

const resolvedModelColumns = `
	m.id, m.provider_id, m.model, m.name, m.description, m.supports_tools, m.supports_images, m.created_at,
	p.id, p.name, p.family, p.base_url, p.configuration, p.created_at
`

// ListResolvedModels returns every model config with provider, credentials and settings
func (s *SQLiteStore) ListResolvedModels(ctx context.Context) ([]*ResolvedModel, error) {
	query := `
		SELECT ` + resolvedModelColumns + `
		FROM model_configs m
		JOIN providers p ON p.id = m.provider_id
		ORDER BY m.name ASC, m.id ASC
	`
	return s.queryResolvedModels(ctx, query)
}

// ListResolvedModelsForGroups returns the distinct model configs granted to any of the groups
func (s *SQLiteStore) ListResolvedModelsForGroups(ctx context.Context, groupIDs []string) ([]*ResolvedModel, error) {
	if len(groupIDs) == 0 {
		return []*ResolvedModel{}, nil
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT `+resolvedModelColumns+`
		FROM model_configs m
		JOIN providers p ON p.id = m.provider_id
		JOIN group_model_access a ON a.model_config_id = m.id
		WHERE a.group_id IN (%s)
		ORDER BY m.name ASC, m.id ASC
	`, placeholders(len(groupIDs)))
	return s.queryResolvedModels(ctx, query, stringArgs(groupIDs)...)
}

func (s *SQLiteStore) queryResolvedModels(ctx context.Context, query string, args ...any) ([]*ResolvedModel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying resolved models: %w", err)
	}
	defer rows.Close()

	models := []*ResolvedModel{}
	byID := make(map[string]*ResolvedModel)
	for rows.Next() {
		var rm ResolvedModel
		var supportsTools, supportsImages int
		var modelCreated, providerCreated, configStr string
		var baseURL sql.NullString

		err := rows.Scan(
			&rm.Config.ID, &rm.Config.ProviderID, &rm.Config.Model, &rm.Config.Name, &rm.Config.Description,
			&supportsTools, &supportsImages, &modelCreated,
			&rm.Provider.ID, &rm.Provider.Name, &rm.Provider.Family, &baseURL, &configStr, &providerCreated,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning resolved model row: %w", err)
		}

		rm.Config.SupportsTools = supportsTools != 0
		rm.Config.SupportsImages = supportsImages != 0
		rm.Provider.BaseURL = baseURL.String
		if err := json.Unmarshal([]byte(configStr), &rm.Provider.Configuration); err != nil {
			return nil, fmt.Errorf("parsing provider configuration: %w", err)
		}
		if rm.Config.CreatedAt, err = parseTime(modelCreated); err != nil {
			return nil, fmt.Errorf("parsing model created_at: %w", err)
		}
		if rm.Provider.CreatedAt, err = parseTime(providerCreated); err != nil {
			return nil, fmt.Errorf("parsing provider created_at: %w", err)
		}

		models = append(models, &rm)
		byID[rm.Config.ID] = &rm
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resolved model rows: %w", err)
	}
	rows.Close()

	if len(models) == 0 {
		return models, nil
	}

	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.Config.ID)
	}
	if err := s.loadCredentials(ctx, ids, byID); err != nil {
		return nil, err
	}
	if err := s.loadSettings(ctx, ids, byID); err != nil {
		return nil, err
	}
	return models, nil
}

func (s *SQLiteStore) loadCredentials(ctx context.Context, ids []string, byID map[string]*ResolvedModel) error {
	query := fmt.Sprintf(`
		SELECT model_config_id, key, value FROM model_config_credentials
		WHERE model_config_id IN (%s)
		ORDER BY model_config_id, key
	`, placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var modelID, key, value string
		if err := rows.Scan(&modelID, &key, &value); err != nil {
			return fmt.Errorf("scanning credential row: %w", err)
		}
		if rm, ok := byID[modelID]; ok {
			rm.Credentials = append(rm.Credentials, Credential{Key: CredentialKey(key), Value: value})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating credential rows: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadSettings(ctx context.Context, ids []string, byID map[string]*ResolvedModel) error {
	query := fmt.Sprintf(`
		SELECT model_config_id, key, value FROM model_config_settings
		WHERE model_config_id IN (%s)
		ORDER BY model_config_id, key
	`, placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var modelID, key, value string
		if err := rows.Scan(&modelID, &key, &value); err != nil {
			return fmt.Errorf("scanning setting row: %w", err)
		}
		if rm, ok := byID[modelID]; ok {
			rm.Settings = append(rm.Settings, Setting{Key: key, Value: json.RawMessage(value)})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating setting rows: %w", err)
	}
	return nil
}
