package capability

import (
	"fmt"
	"strconv"
	"strings"

	xerrors "quackcore/internal/errors"
)

// CheckVersion verifies a plugin's declared contract version against
// ContractVersion. Versions are "major.minor"; only the major part must
// match.
func CheckVersion(declared string) error {
	declaredMajor, err := majorOf(declared)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeIncompatibleVersion, err,
			fmt.Sprintf("cannot parse contract version %q", declared))
	}
	currentMajor, _ := majorOf(ContractVersion)
	if declaredMajor != currentMajor {
		return xerrors.New(xerrors.CodeIncompatibleVersion,
			fmt.Sprintf("contract version %s is incompatible with %s", declared, ContractVersion))
	}
	return nil
}

func majorOf(version string) (int, error) {
	head, _, _ := strings.Cut(strings.TrimSpace(version), ".")
	return strconv.Atoi(head)
}

// Validate checks that an instance actually exposes every capability it
// declares. It is run by the registry before an instance becomes active;
// a declared-but-unimplemented tag is a ContractViolation.
func Validate(kind Kind, tags []Tag, inst Instance) error {
	if inst == nil {
		return xerrors.New(xerrors.CodeContractViolation, "plugin factory returned nil instance")
	}
	allowed, ok := kindTags[kind]
	if !ok {
		return xerrors.New(xerrors.CodeContractViolation, fmt.Sprintf("unknown plugin kind %q", kind))
	}
	if err := validateKindSurface(kind, inst); err != nil {
		return err
	}
	for _, tag := range tags {
		if _, ok := allowed[tag]; !ok {
			return xerrors.New(xerrors.CodeContractViolation,
				fmt.Sprintf("tag %s is not valid for kind %s", tag, kind))
		}
		if err := validateTag(tag, inst); err != nil {
			return err
		}
	}
	return nil
}

func validateKindSurface(kind Kind, inst Instance) error {
	var ok bool
	switch kind {
	case KindFilesystem:
		_, ok = inst.(Filesystem)
	case KindPathResolver:
		_, ok = inst.(PathResolver)
	case KindConfig:
		_, ok = inst.(ConfigProvider)
	case KindIntegration:
		_, ok = inst.(Integration)
	}
	if !ok {
		return xerrors.New(xerrors.CodeContractViolation,
			fmt.Sprintf("instance does not implement the %s operation surface", kind))
	}
	return nil
}

func validateTag(tag Tag, inst Instance) error {
	switch tag {
	case TagFileSafeOps:
		if _, ok := inst.(SafeOps); !ok {
			return violation(tag, "safe copy/move operations missing")
		}
	case TagPathProject:
		if _, ok := inst.(ProjectContext); !ok {
			return violation(tag, "project root detection missing")
		}
	case TagIntegrationAuth:
		if _, ok := inst.(Authenticator); !ok {
			return violation(tag, "authenticator missing")
		}
	case TagIntegrationCall:
		integ, ok := inst.(Integration)
		if !ok || len(integ.Operations()) == 0 {
			return violation(tag, "no callable operations exposed")
		}
	case TagIntegrationPaginate:
		integ, ok := inst.(Integration)
		if !ok {
			return violation(tag, "integration surface missing")
		}
		paginated := false
		for _, op := range integ.Operations() {
			if op.Paginated {
				paginated = true
				break
			}
		}
		if !paginated {
			return violation(tag, "no paginated operations exposed")
		}
	}
	// Remaining tags are covered by the kind surface check.
	return nil
}

func violation(tag Tag, detail string) error {
	return xerrors.New(xerrors.CodeContractViolation,
		fmt.Sprintf("declared capability %s not implemented: %s", tag, detail))
}

// OperationByName looks up an integration operation's metadata.
func OperationByName(integ Integration, name string) (Operation, bool) {
	for _, op := range integ.Operations() {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}
