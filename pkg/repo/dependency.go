package repo

// DependencyFlags is a bitmask of RPM sense flags relevant to a single
// Dependency. Only the flags named below are ever surfaced; any other bits
// an RPM header sets are ignored for projection purposes.
type DependencyFlags uint32

// Bit positions match RPM's own RPMSENSE_* header flags exactly, since
// these values are compared directly against the raw uint32 go-rpmutils
// reads off PROVIDEFLAGS/REQUIREFLAGS — they are not a private enumeration.
// Canonical order (depFlagOrder below) matters: when several bits are set
// on one dependency, the first one listed wins, mirroring the fixed lookup
// order the original implementation used.
const (
	DepFlagScriptPre     DependencyFlags = 1 << 9
	DepFlagScriptPost    DependencyFlags = 1 << 10
	DepFlagScriptPreun   DependencyFlags = 1 << 11
	DepFlagScriptPostun  DependencyFlags = 1 << 12
	DepFlagScriptVerify  DependencyFlags = 1 << 13
	DepFlagFindRequires  DependencyFlags = 1 << 14
	DepFlagFindProvides  DependencyFlags = 1 << 15
	DepFlagTriggerIn     DependencyFlags = 1 << 16
	DepFlagTriggerUn     DependencyFlags = 1 << 17
	DepFlagTriggerPostun DependencyFlags = 1 << 18
	DepFlagMissingOK     DependencyFlags = 1 << 19
	DepFlagPreUnTrans    DependencyFlags = 1 << 30
	DepFlagPostUnTrans   DependencyFlags = 1 << 31
)

// depFlagOrder pairs each flag bit with its surfaced name, in the exact
// first-match-wins order the spec mandates.
var depFlagOrder = []struct {
	bit  DependencyFlags
	name string
}{
	{DepFlagScriptPre, "scriptpre"},
	{DepFlagScriptPost, "scriptpost"},
	{DepFlagScriptPreun, "scriptpreun"},
	{DepFlagScriptPostun, "scriptpostun"},
	{DepFlagScriptVerify, "scriptverify"},
	{DepFlagFindRequires, "findrequires"},
	{DepFlagFindProvides, "findprovides"},
	{DepFlagTriggerIn, "triggerin"},
	{DepFlagTriggerUn, "triggerun"},
	{DepFlagTriggerPostun, "triggerpostun"},
	{DepFlagMissingOK, "missingok"},
	{DepFlagPreUnTrans, "preuntrans"},
	{DepFlagPostUnTrans, "postuntrans"},
}

// Dependency is a single provides/requires entry on a Package.
type Dependency struct {
	Name    string  `json:"name"`
	Version *string `json:"version,omitempty"`
	Flag    *string `json:"flag,omitempty"`
}

// NewDependency builds a Dependency from raw RPM metadata fields. version
// is normalized to nil when empty; flag is resolved from flags by taking
// the first matching bit in canonical order, or nil if none match.
func NewDependency(name, version string, flags DependencyFlags) Dependency {
	dep := Dependency{Name: name}
	if version != "" {
		v := version
		dep.Version = &v
	}
	for _, candidate := range depFlagOrder {
		if flags&candidate.bit != 0 {
			name := candidate.name
			dep.Flag = &name
			break
		}
	}
	return dep
}
