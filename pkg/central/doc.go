// See central.go. The fleet client and store dependencies are narrowed to
// interfaces, same reasoning as pkg/deployer: lets tests substitute fakes
// instead of standing up real HTTP servers or a database.
package central
