package lending

// Config captures the runtime configuration for the lending module.
type Config struct {
	// MaxLoansPerAccount bounds the embedded loan list. The account record is
	// sized for this many entries up front, so raising it on a live ledger
	// requires a state migration.
	MaxLoansPerAccount uint8 `toml:"MaxLoansPerAccount"`
	// InterestRateBps is the flat interest rate charged on repayment,
	// expressed in basis points of the principal.
	InterestRateBps uint64 `toml:"InterestRateBps"`
}

const (
	defaultMaxLoansPerAccount = 3
	defaultInterestRateBps    = 3_000
)

// EnsureDefaults populates unset fields with the module defaults.
func (c *Config) EnsureDefaults() {
	if c.MaxLoansPerAccount == 0 {
		c.MaxLoansPerAccount = defaultMaxLoansPerAccount
	}
	if c.InterestRateBps == 0 {
		c.InterestRateBps = defaultInterestRateBps
	}
}

// DefaultConfig returns the module defaults: three loans per account and a
// flat 30% rate.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.EnsureDefaults()
	return cfg
}
