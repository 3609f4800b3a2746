package config

// AppConfig is loaded from environment variables (optionally via a .env
// file) at startup.
type AppConfig struct {
	LNDAddress      string `envconfig:"LND_ADDRESS"`
	LNDCertFile     string `envconfig:"LND_CERT_FILE"`
	LNDCertHex      string `envconfig:"LND_CERT_HEX"`
	LNDMacaroonFile string `envconfig:"LND_MACAROON_FILE"`
	LNDMacaroonHex  string `envconfig:"LND_MACAROON_HEX"`

	Network      string `envconfig:"NETWORK" default:"mainnet"`
	Workdir      string `envconfig:"WORK_DIR"`
	Port         string `envconfig:"PORT" default:"1984"`
	DatabaseUri  string `envconfig:"DATABASE_URI" default:"lsps.db"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogToFile    bool   `envconfig:"LOG_TO_FILE" default:"true"`
	LogDBQueries bool   `envconfig:"LOG_DB_QUERIES" default:"false"`

	// Provider limits advertised via lsps1.get_info.
	Lsps1Website                     string `envconfig:"LSPS1_WEBSITE"`
	Lsps1MinChannelConfirmations     uint32 `envconfig:"LSPS1_MIN_CHANNEL_CONFIRMATIONS" default:"0"`
	Lsps1SupportsZeroChannelReserve  bool   `envconfig:"LSPS1_SUPPORTS_ZERO_CHANNEL_RESERVE" default:"true"`
	Lsps1MaxChannelExpiryBlocks      uint32 `envconfig:"LSPS1_MAX_CHANNEL_EXPIRY_BLOCKS" default:"20160"`
	Lsps1MinInitialClientBalanceSat  uint64 `envconfig:"LSPS1_MIN_INITIAL_CLIENT_BALANCE_SAT" default:"0"`
	Lsps1MaxInitialClientBalanceSat  uint64 `envconfig:"LSPS1_MAX_INITIAL_CLIENT_BALANCE_SAT" default:"0"`
	Lsps1MinInitialLspBalanceSat     uint64 `envconfig:"LSPS1_MIN_INITIAL_LSP_BALANCE_SAT" default:"100000"`
	Lsps1MaxInitialLspBalanceSat     uint64 `envconfig:"LSPS1_MAX_INITIAL_LSP_BALANCE_SAT" default:"100000000"`
	Lsps1MinChannelBalanceSat        uint64 `envconfig:"LSPS1_MIN_CHANNEL_BALANCE_SAT" default:"100000"`
	Lsps1MaxChannelBalanceSat        uint64 `envconfig:"LSPS1_MAX_CHANNEL_BALANCE_SAT" default:"100000000"`

	// Pricing.
	Lsps1FeeModel        string `envconfig:"LSPS1_FEE_MODEL" default:"fixed"`
	Lsps1FixedFeeSat     uint64 `envconfig:"LSPS1_FIXED_FEE_SAT" default:"10000"`
	Lsps1FundingTxVBytes uint64 `envconfig:"LSPS1_FUNDING_TX_VBYTES" default:"200"`

	// Order lifecycle timing.
	Lsps1OrderLifetime   string `envconfig:"LSPS1_ORDER_LIFETIME" default:"1h"`
	Lsps1SagaBudget      string `envconfig:"LSPS1_SAGA_BUDGET" default:"10m"`
	Lsps1FeeTargetBlocks uint32 `envconfig:"LSPS1_FEE_TARGET_BLOCKS" default:"6"`
}
