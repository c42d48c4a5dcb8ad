package trust

// Named calibration profiles. Each is a partial Config applied over the
// defaults via Reconfigure — conservative decays faster and grants less
// on approval, permissive is the opposite, balanced matches
// DefaultConfig's documented numbers.
var (
	ConservativeProfile = Config{
		DecayTargetScore:           40,
		DecayCeiling:               40,
		InactivityThresholdTicks:   50,
		DecayRatePerTick:           2,
		DiminishingReturnThreshold: 80,
		DiminishingReturnFactor:    0.4,
		RiskWeightingEnabled:       true,
	}

	BalancedProfile = DefaultConfig()

	PermissiveProfile = Config{
		DecayTargetScore:           60,
		DecayCeiling:               70,
		InactivityThresholdTicks:   200,
		DecayRatePerTick:           1,
		DiminishingReturnThreshold: 95,
		DiminishingReturnFactor:    0.75,
		RiskWeightingEnabled:       false,
	}
)

// ProfileByName resolves a calibration profile by name, defaulting to
// balanced if name is unrecognized.
func ProfileByName(name string) Config {
	switch name {
	case "conservative":
		return ConservativeProfile
	case "permissive":
		return PermissiveProfile
	default:
		return BalancedProfile
	}
}
