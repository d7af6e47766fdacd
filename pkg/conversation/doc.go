// Package conversation holds the client side view of all conversation threads.
//
// The Store owns every Session and every Message. All changes go through
// Store.Apply with a Mutation, which either applies completely or not at all,
// bumps the state version and hands a deep copy of the new state to all
// subscribers. Readers never see a session that has been renamed without the
// message that triggered the rename, or the other way around.
package conversation
