package bag

const secretName = "data_bag_secret"

// Config defines settings for a specific data bag.
type Config struct {
	// Name is the data bag name, set from the config document key.
	Name string `yaml:"-"`
	// StoreDir is the password store directory, passed as PASSWORD_STORE_DIR
	StoreDir string `yaml:"password_store_dir,omitempty"`
	// SecretFile is the destination of the data bag secret on target hosts
	SecretFile  string `yaml:"data_bag_secret,omitempty"`
	Description string `yaml:"description,omitempty"`
	// Vault is the 1password vault title, does not apply for pass
	Vault string `yaml:"vault,omitempty"`
	// StoreType overrides the store backend for this data bag
	StoreType string        `yaml:"store_type,omitempty"`
	DataBag   TemplateGroup `yaml:"data_bag" validate:"required"`
}

// SetDefaults fills unset optional settings.
func (c *Config) SetDefaults() {
	if c.StoreDir == "" {
		c.StoreDir = "."
	}
	if c.SecretFile == "" {
		c.SecretFile = "/etc/chef/" + c.Name + "_data_bag_secret"
	}
	if c.Description == "" {
		c.Description = "Create/Upload encrypted data bag for " + c.Name
	}
	if c.Vault == "" {
		c.Vault = c.Name
	}
}

// LookupPath returns the store path of an expanded template.
func (c *Config) LookupPath(expanded string) string {
	return c.Name + "/" + expanded
}

// SecretPath returns the store path of the data bag secret for item.
func (c *Config) SecretPath(item string) string {
	return c.Name + "/" + item + "/" + secretName
}

// PassphrasePath returns the store path of the passphrase for item.
func (c *Config) PassphrasePath(item string) string {
	return c.Name + "/" + item + ".passphrase"
}

// SecretDestination returns the data bag secret path on target hosts.
func (c *Config) SecretDestination(item string) string {
	return Expand(c.SecretFile, item)
}
