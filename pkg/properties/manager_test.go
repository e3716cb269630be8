package properties_test

import (
	"testing"

	"github.com/mattcburns/fleetupdate/pkg/ferrors"
	"github.com/mattcburns/fleetupdate/pkg/properties"
)

func TestManager_ResolveChain(t *testing.T) {
	t.Parallel()

	props := []properties.Property{
		{Key: "app.home", Value: "/opt/app"},
		{Key: "app.bin", Value: "${app.home}/bin"},
		{Key: "app.launcher", Value: "${app.bin}/launch.sh"},
	}
	m, err := properties.NewManager(properties.Linux, props, properties.Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got, err := m.Resolve("${app.launcher}", properties.ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := "/opt/app/bin/launch.sh"; got != want {
		t.Fatalf("Resolve() = %q, want %q", got, want)
	}
}

func TestManager_OSScopingOverridesAny(t *testing.T) {
	t.Parallel()

	props := []properties.Property{
		{Key: "sep", Value: "/"},
		{Key: "sep", Value: "\\", OS: properties.Windows},
	}
	m, err := properties.NewManager(properties.Windows, props, properties.Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got, err := m.Resolve("${sep}", properties.ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != `\` {
		t.Fatalf("Resolve() = %q, want backslash", got)
	}
}

func TestManager_CyclicPropertyFails(t *testing.T) {
	t.Parallel()

	props := []properties.Property{
		{Key: "a", Value: "${b}"},
		{Key: "b", Value: "${a}"},
	}
	_, err := properties.NewManager(properties.Linux, props, properties.Options{})
	if !ferrors.Is(err, ferrors.CyclicProperty) {
		t.Fatalf("NewManager() error = %v, want CyclicProperty", err)
	}
}

func TestManager_EnvironmentFallback(t *testing.T) {
	t.Parallel()

	props := []properties.Property{
		{Key: "home", Value: "${FLEETUPDATE_TEST_HOME}/app"},
	}
	m, err := properties.NewManager(properties.Linux, props, properties.Options{
		ProcessEnv: map[string]string{"FLEETUPDATE_TEST_HOME": "/home/tester"},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got, err := m.Resolve("${home}", properties.ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := "/home/tester/app"; got != want {
		t.Fatalf("Resolve() = %q, want %q", got, want)
	}
}

func TestManager_ResolveUnresolvedProperty(t *testing.T) {
	t.Parallel()

	m, err := properties.NewManager(properties.Linux, nil, properties.Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	_, err = m.Resolve("${missing}", properties.ResolveOptions{})
	if !ferrors.Is(err, ferrors.UnresolvedProperty) {
		t.Fatalf("Resolve() error = %v, want UnresolvedProperty", err)
	}
}

func TestManager_IgnoreForeignProperty(t *testing.T) {
	t.Parallel()

	props := []properties.Property{
		{Key: "mac.only", Value: "/Applications/App", OS: properties.Mac},
	}
	m, err := properties.NewManager(properties.Linux, props, properties.Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got, err := m.Resolve("${mac.only}/bin", properties.ResolveOptions{IgnoreForeignProperty: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := "${mac.only}/bin"; got != want {
		t.Fatalf("Resolve() = %q, want %q", got, want)
	}
}

func TestManager_ResolveIsPathNormalizesSlashes(t *testing.T) {
	t.Parallel()

	props := []properties.Property{{Key: "root", Value: `C:\app`}}
	m, err := properties.NewManager(properties.Windows, props, properties.Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got, err := m.Resolve(`${root}\bin`, properties.ResolveOptions{IsPath: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := "C:/app/bin"; got != want {
		t.Fatalf("Resolve() = %q, want %q", got, want)
	}
}

func TestManager_ImplyWholeWordLongestFirst(t *testing.T) {
	t.Parallel()

	props := []properties.Property{
		{Key: "app.home", Value: "/opt/app"},
		{Key: "app.home.bin", Value: "/opt/app/bin"},
	}
	m, err := properties.NewManager(properties.Linux, props, properties.Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got := m.Imply("/opt/app/bin/launch.sh", properties.PolicyWholeWord, false)
	if want := "${app.home.bin}/launch.sh"; got != want {
		t.Fatalf("Imply() = %q, want %q", got, want)
	}
}

func TestManager_ImplySkipsInsideExistingPlaceholder(t *testing.T) {
	t.Parallel()

	props := []properties.Property{{Key: "x", Value: "app.home"}}
	m, err := properties.NewManager(properties.Linux, props, properties.Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got := m.Imply("${app.home}/bin", properties.PolicyEveryOccurrence, false)
	if want := "${app.home}/bin"; got != want {
		t.Fatalf("Imply() = %q, want %q", got, want)
	}
}

func TestProperty_ValidateForbiddenCharacter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key     string
		wantErr bool
	}{
		{"plain.key", false},
		{"has$dollar", true},
		{"has{brace", true},
		{"has}brace", true},
	}
	for _, tc := range cases {
		err := (properties.Property{Key: tc.key}).Validate()
		if tc.wantErr && !ferrors.Is(err, ferrors.ForbiddenCharacter) {
			t.Errorf("Validate(%q) error = %v, want ForbiddenCharacter", tc.key, err)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("Validate(%q) error = %v, want nil", tc.key, err)
		}
	}
}
