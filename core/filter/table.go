package filter

// The closed table of recognized filter names, as required by §4.2: every
// name the server will coerce and evaluate. Unknown filter names are
// silently ignored by Process.

// BuiltinProperties are always recognized regardless of interop mode.
var BuiltinProperties = map[string]FilterInfo{
	"id":   StringFilter,
	"type": StringFilter,
}

// Tier1Properties are "simple top-level properties".
var Tier1Properties = map[string]FilterInfo{
	"account_type":         StringFilter,
	"confidence":           IntegerFilter,
	"context":              StringFilter,
	"data_type":            StringFilter,
	"dst_port":             IntegerFilter,
	"encryption_algorithm": StringFilter,
	"identity_class":       StringFilter,
	"name":                 StringFilter,
	"number":               IntegerFilter,
	"opinion":              StringFilter,
	"pattern":              StringFilter,
	"pattern_type":         StringFilter,
	"primary_motivation":   StringFilter,
	"region":               StringFilter,
	"relationship_type":    StringFilter,
	"resource_level":       StringFilter,
	"result":               StringFilter,
	"revoked":              BooleanFilter,
	"src_port":             IntegerFilter,
	"sophistication":       StringFilter,
	"subject":              StringFilter,
	"value":                StringFilter,
}

// Tier2Properties are "array elements (lists) defined as top-level
// properties".
var Tier2Properties = map[string]FilterInfo{
	"aliases":                     StringFilter,
	"architecture_execution_envs": StringFilter,
	"capabilities":                StringFilter,
	"extension_types":             StringFilter,
	"implementation_languages":    StringFilter,
	"indicator_types":             StringFilter,
	"infrastructure_types":        StringFilter,
	"labels":                      StringFilter,
	"malware_types":               StringFilter,
	"personal_motivations":        StringFilter,
	"report_types":                StringFilter,
	"roles":                       StringFilter,
	"secondary_motivations":       StringFilter,
	"sectors":                     StringFilter,
	"threat_actor_types":          StringFilter,
	"tool_types":                  StringFilter,
}

// Tier3Properties are "properties defined within nested structures".
var Tier3Properties = map[string]FilterInfo{
	"address_family":   StringFilter,
	"external_id":      StringFilter,
	"MD5":              StringFilter,
	"SHA-1":            StringFilter,
	"SHA-256":          StringFilter,
	"SHA-512":          StringFilter,
	"SHA3-256":         StringFilter,
	"SHA3-512":         StringFilter,
	"SSDEEP":           StringFilter,
	"TLSH":             StringFilter,
	"integrity_level":  StringFilter,
	"pe_type":          StringFilter,
	"phase_name":       StringFilter,
	"service_status":   StringFilter,
	"service_type":     StringFilter,
	"socket_type":      StringFilter,
	"source_name":      StringFilter,
	"start_type":       StringFilter,
	"tlp":              TLPFilter,
}

// RelationshipProperties holds the single relationships-all field.
var RelationshipProperties = map[string]FilterInfo{
	"relationships-all": StringFilter,
}

type calcSpec struct {
	Prop string
	Op   CompareOp
	Info FilterInfo
}

// CalculationProperties maps each "<prop>-gte|-lte" filter name to the
// property it compares and the comparison operator to apply.
var CalculationProperties = map[string]calcSpec{
	"confidence-gte":  {"confidence", GTE, IntegerFilter},
	"confidence-lte":  {"confidence", LTE, IntegerFilter},
	"modified-gte":    {"modified", GTE, TimestampFilter},
	"modified-lte":    {"modified", LTE, TimestampFilter},
	"number-gte":      {"number", GTE, IntegerFilter},
	"number-lte":      {"number", LTE, IntegerFilter},
	"src_port-gte":    {"src_port", GTE, IntegerFilter},
	"src_port-lte":    {"src_port", LTE, IntegerFilter},
	"dst_port-gte":    {"dst_port", GTE, IntegerFilter},
	"dst_port-lte":    {"dst_port", LTE, IntegerFilter},
	"valid_until-gte": {"valid_until", GTE, TimestampFilter},
	"valid_from-lte":  {"valid_from", LTE, TimestampFilter},
}

// speedTier returns the filter's evaluation speed tier: smaller runs
// first. Fixed top-level properties and added_after are tier 1; list-
// valued top-level properties are tier 2; nested/reference/calculation
// filters are tier 3.
func speedTier(bareName string) int {
	if bareName == "added_after" {
		return 1
	}
	if _, ok := BuiltinProperties[bareName]; ok {
		return 1
	}
	if _, ok := Tier1Properties[bareName]; ok {
		return 1
	}
	if _, ok := Tier2Properties[bareName]; ok {
		return 2
	}
	if _, ok := Tier3Properties[bareName]; ok {
		return 3
	}
	if _, ok := RelationshipProperties[bareName]; ok {
		return 3
	}
	if _, ok := CalculationProperties[bareName]; ok {
		return 3
	}
	return 4
}

// buildMatcher returns the pre-instantiated matcher for a bare filter
// name, or nil if the name is not recognized.
func buildMatcher(bareName string) Matcher {
	if bareName == "added_after" {
		return AddedAfterMatcher{}
	}
	if info, ok := BuiltinProperties[bareName]; ok {
		return TopLevelPropertyMatcher{PropName: bareName, Info: info}
	}
	if info, ok := Tier1Properties[bareName]; ok {
		var def interface{}
		if bareName == "revoked" {
			def = false
		}
		return TopLevelPropertyMatcher{PropName: bareName, Info: info, DefaultValue: def}
	}
	if info, ok := Tier2Properties[bareName]; ok {
		return TopLevelPropertyMatcher{PropName: bareName, Info: info}
	}
	if bareName == "tlp" {
		return TLPMatcher{}
	}
	if info, ok := Tier3Properties[bareName]; ok {
		return SubPropertyMatcher{PropName: bareName, Info: info}
	}
	if _, ok := RelationshipProperties[bareName]; ok {
		return RelationshipsAllMatcher{}
	}
	if spec, ok := CalculationProperties[bareName]; ok {
		return CalculationMatcher{PropName: spec.Prop, Op: spec.Op, Info: spec.Info}
	}
	return nil
}

// filterInfoFor returns the FilterInfo for a bare filter name, used to
// coerce its query values before matching. Returns false if unrecognized.
func filterInfoFor(bareName string) (FilterInfo, bool) {
	if bareName == "added_after" {
		return TimestampFilter, true
	}
	if info, ok := BuiltinProperties[bareName]; ok {
		return info, true
	}
	if info, ok := Tier1Properties[bareName]; ok {
		return info, true
	}
	if info, ok := Tier2Properties[bareName]; ok {
		return info, true
	}
	if info, ok := Tier3Properties[bareName]; ok {
		return info, true
	}
	if info, ok := RelationshipProperties[bareName]; ok {
		return info, true
	}
	if spec, ok := CalculationProperties[bareName]; ok {
		return spec.Info, true
	}
	return FilterInfo{}, false
}
