// Package listener opens the server's TCP listening socket.
package listener

// Backlog is the listen queue length requested from the kernel.
const Backlog = 1024
