// Package googlemaven reads the index tree of Google's Maven repository.
//
// The repository does not publish a Nexus index. Instead it serves a
// master-index.xml listing every group, and one group-index.xml per group
// listing each artifact with a comma-separated version list:
//
//	<androidx.annotation>
//	  <annotation versions="1.0.0,1.1.0"/>
//	  <annotation-jvm versions="1.7.0"/>
//	</androidx.annotation>
//
// Release files themselves use the standard Maven layout and are read with
// the maven package.
package googlemaven
