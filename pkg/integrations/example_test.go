package integrations_test

import (
	"fmt"

	"github.com/matzehuels/kmpindex/pkg/integrations"
)

func ExampleNormalizeRepoURL() {
	// POM scm fields come in many spellings
	fmt.Println(integrations.NormalizeRepoURL("scm:git:git@github.com:Kotlin/kotlinx.coroutines.git"))
	fmt.Println(integrations.NormalizeRepoURL("scm:git:https://github.com/ktorio/ktor.git"))
	fmt.Println(integrations.NormalizeRepoURL("git://github.com/square/okio"))
	// Output:
	// https://github.com/Kotlin/kotlinx.coroutines
	// https://github.com/ktorio/ktor
	// https://github.com/square/okio
}

func Example_errors() {
	fmt.Println("ErrNotFound:", integrations.ErrNotFound)
	fmt.Println("ErrNotModified:", integrations.ErrNotModified)
	fmt.Println("ErrNetwork:", integrations.ErrNetwork)
	// Output:
	// ErrNotFound: not found
	// ErrNotModified: not modified
	// ErrNetwork: network error
}
