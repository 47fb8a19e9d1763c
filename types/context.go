package types

import (
	"github.com/google/uuid"
)

// EvaluationContext contains user and environment information for flag
// evaluation. PrivateAttributes names fields that are stripped before the
// context leaves the process.
type EvaluationContext struct {
	UserID            string         `json:"userId,omitempty"`
	Email             string         `json:"email,omitempty"`
	Name              string         `json:"name,omitempty"`
	Anonymous         bool           `json:"anonymous,omitempty"`
	Country           string         `json:"country,omitempty"`
	DeviceType        string         `json:"deviceType,omitempty"`
	OS                string         `json:"os,omitempty"`
	Browser           string         `json:"browser,omitempty"`
	Custom            map[string]any `json:"custom,omitempty"`
	PrivateAttributes []string       `json:"privateAttributes,omitempty"`
}

// NewContext creates a new EvaluationContext with the given user ID.
func NewContext(userID string) *EvaluationContext {
	return &EvaluationContext{
		UserID: userID,
		Custom: make(map[string]any),
	}
}

// NewAnonymousContext creates a context with a synthesized user ID.
func NewAnonymousContext() *EvaluationContext {
	return &EvaluationContext{
		UserID:    "anon-" + uuid.NewString(),
		Anonymous: true,
		Custom:    make(map[string]any),
	}
}

// WithEmail sets the email attribute.
func (c *EvaluationContext) WithEmail(email string) *EvaluationContext {
	c.Email = email
	return c
}

// WithName sets the name attribute.
func (c *EvaluationContext) WithName(name string) *EvaluationContext {
	c.Name = name
	return c
}

// WithCountry sets the country attribute.
func (c *EvaluationContext) WithCountry(country string) *EvaluationContext {
	c.Country = country
	return c
}

// WithCustom sets a custom attribute.
func (c *EvaluationContext) WithCustom(key string, value any) *EvaluationContext {
	if c.Custom == nil {
		c.Custom = make(map[string]any)
	}
	c.Custom[key] = value
	return c
}

// WithPrivateAttributes marks attribute names as private.
func (c *EvaluationContext) WithPrivateAttributes(names ...string) *EvaluationContext {
	c.PrivateAttributes = append(c.PrivateAttributes, names...)
	return c
}

// Clone returns a defensive copy of the context.
func (c *EvaluationContext) Clone() *EvaluationContext {
	if c == nil {
		return nil
	}
	cloned := *c
	if c.Custom != nil {
		cloned.Custom = make(map[string]any, len(c.Custom))
		for k, v := range c.Custom {
			cloned.Custom[k] = v
		}
	}
	if c.PrivateAttributes != nil {
		cloned.PrivateAttributes = append([]string(nil), c.PrivateAttributes...)
	}
	return &cloned
}

// Merge overlays other onto a copy of this context. Non-empty fields in
// other win; custom attributes are merged key by key.
func (c *EvaluationContext) Merge(other *EvaluationContext) *EvaluationContext {
	if other == nil {
		return c.Clone()
	}
	merged := c.Clone()
	if other.UserID != "" {
		merged.UserID = other.UserID
		merged.Anonymous = other.Anonymous
	}
	if other.Email != "" {
		merged.Email = other.Email
	}
	if other.Name != "" {
		merged.Name = other.Name
	}
	if other.Country != "" {
		merged.Country = other.Country
	}
	if other.DeviceType != "" {
		merged.DeviceType = other.DeviceType
	}
	if other.OS != "" {
		merged.OS = other.OS
	}
	if other.Browser != "" {
		merged.Browser = other.Browser
	}
	for k, v := range other.Custom {
		if merged.Custom == nil {
			merged.Custom = make(map[string]any)
		}
		merged.Custom[k] = v
	}
	merged.PrivateAttributes = append(merged.PrivateAttributes, other.PrivateAttributes...)
	return merged
}

// StripPrivateAttributes returns a copy of the context with private
// attributes removed.
func (c *EvaluationContext) StripPrivateAttributes() *EvaluationContext {
	stripped := &EvaluationContext{
		UserID:    c.UserID,
		Anonymous: c.Anonymous,
		Custom:    make(map[string]any),
	}

	privateSet := make(map[string]bool)
	for _, attr := range c.PrivateAttributes {
		privateSet[attr] = true
	}

	if !privateSet["email"] {
		stripped.Email = c.Email
	}
	if !privateSet["name"] {
		stripped.Name = c.Name
	}
	if !privateSet["country"] {
		stripped.Country = c.Country
	}
	if !privateSet["deviceType"] {
		stripped.DeviceType = c.DeviceType
	}
	if !privateSet["os"] {
		stripped.OS = c.OS
	}
	if !privateSet["browser"] {
		stripped.Browser = c.Browser
	}

	for k, v := range c.Custom {
		if !privateSet[k] {
			stripped.Custom[k] = v
		}
	}

	return stripped
}

// ToMap converts the context to a map for serialization.
func (c *EvaluationContext) ToMap() map[string]any {
	m := make(map[string]any)

	if c.UserID != "" {
		m["userId"] = c.UserID
	}
	if c.Email != "" {
		m["email"] = c.Email
	}
	if c.Name != "" {
		m["name"] = c.Name
	}
	if c.Anonymous {
		m["anonymous"] = c.Anonymous
	}
	if c.Country != "" {
		m["country"] = c.Country
	}
	if c.DeviceType != "" {
		m["deviceType"] = c.DeviceType
	}
	if c.OS != "" {
		m["os"] = c.OS
	}
	if c.Browser != "" {
		m["browser"] = c.Browser
	}
	if len(c.Custom) > 0 {
		m["custom"] = c.Custom
	}

	return m
}
