// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing agents and chats and when driving the
// local backend without a native runtime. They are not intended for
// production usage.
package testutil
