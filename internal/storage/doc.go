// Package storage provides optional write-through persistence for
// subscriptions. With no driver configured the bot is purely in-memory and
// loses all subscriptions on restart; callers should not assume durability
// unless a driver is set.
package storage
